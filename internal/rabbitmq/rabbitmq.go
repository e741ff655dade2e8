package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cutekitek/rankode-judge/internal/mappers"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	DefaultRequestQueue  = "judge-req"
	DefaultResponseQueue = "judge-resp"

	reconnectDelay = 15 * time.Second
	publishTimeout = 5 * time.Second
)

type Submitter interface {
	Submit(ctx context.Context, sub *models.Submission) (*models.Attempt, error)
}

type RabbitMqHandlerConfig struct {
	Login         string
	Password      string
	Host          string
	Port          int
	RequestQueue  string
	ResponseQueue string
	Prefetch      int
}

func (c RabbitMqHandlerConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.Login, c.Password, c.Host, c.Port)
}

// replyRoute is where the verdict of one delivered submission goes.
type replyRoute struct {
	queue         string
	correlationID string
}

// RabbitMQHandler consumes submission descriptors and publishes the final attempt of
// each one. It implements service.Notifier.
type RabbitMQHandler struct {
	cfg  RabbitMqHandlerConfig
	svc  Submitter
	log  *zap.Logger
	ctx  context.Context
	stop context.CancelFunc

	mu           sync.Mutex
	conn         *amqp.Connection
	consumerChan *amqp.Channel
	producerChan *amqp.Channel

	routes  sync.Map // *models.Submission -> replyRoute
	wg      sync.WaitGroup
	stopped atomic.Bool
	closed  atomic.Bool
}

func NewRabbitMQHandler(cfg RabbitMqHandlerConfig, svc Submitter, log *zap.Logger) *RabbitMQHandler {
	if cfg.RequestQueue == "" {
		cfg.RequestQueue = DefaultRequestQueue
	}
	if cfg.ResponseQueue == "" {
		cfg.ResponseQueue = DefaultResponseQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &RabbitMQHandler{cfg: cfg, svc: svc, log: log, ctx: ctx, stop: stop}
}

func (r *RabbitMQHandler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.connect(); err != nil {
		return errors.Wrap(err, "failed to connect")
	}
	if err := r.startProducer(); err != nil {
		return errors.Wrap(err, "failed to start producer")
	}
	if err := r.startConsumer(); err != nil {
		return errors.Wrap(err, "failed to start consumer")
	}
	r.log.Info("rabbitmq consumer started", zap.String("queue", r.cfg.RequestQueue))
	return nil
}

func (r *RabbitMQHandler) connect() error {
	conn, err := amqp.Dial(r.cfg.URL())
	if err != nil {
		return err
	}
	r.conn = conn
	errChan := conn.NotifyClose(make(chan *amqp.Error, 1))
	go r.watch(errChan)
	return nil
}

// watch restarts the handler after the broker drops the connection.
func (r *RabbitMQHandler) watch(errChan <-chan *amqp.Error) {
	amqpErr, ok := <-errChan
	if r.stopped.Load() {
		return
	}
	if ok {
		r.log.Warn("rabbitmq connection closed", zap.String("reason", amqpErr.Reason))
	}
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
		if err := r.Start(); err != nil {
			r.log.Error("failed to reconnect to rabbitmq", zap.Error(err))
			continue
		}
		return
	}
}

func (r *RabbitMQHandler) startConsumer() error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	if err := channel.Qos(r.cfg.Prefetch, 0, false); err != nil {
		return err
	}
	queue, err := channel.QueueDeclare(r.cfg.RequestQueue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	del, err := channel.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	r.consumerChan = channel
	r.wg.Add(1)
	go r.listener(del)
	return nil
}

func (r *RabbitMQHandler) startProducer() error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	if _, err := channel.QueueDeclare(r.cfg.ResponseQueue, true, false, false, false, nil); err != nil {
		return err
	}
	r.producerChan = channel
	return nil
}

func (r *RabbitMQHandler) listener(deliveries <-chan amqp.Delivery) {
	defer r.wg.Done()
	for d := range deliveries {
		r.handleDelivery(d)
	}
}

func (r *RabbitMQHandler) handleDelivery(d amqp.Delivery) {
	sub, err := decodeSubmission(d.Body)
	if err != nil {
		r.log.Error("invalid task message", zap.String("message", string(d.Body)), zap.Error(err))
		d.Nack(false, false)
		return
	}

	route := r.route(d)
	r.routes.Store(sub, route)
	if _, err := r.svc.Submit(r.ctx, sub); err != nil {
		r.routes.Delete(sub)
		if r.ctx.Err() != nil {
			d.Nack(false, true)
			return
		}
		r.log.Warn("submission rejected", zap.String("problem_id", sub.ProblemID), zap.Error(err))
		r.send(route, mappers.RejectedResponse(sub, err))
		d.Ack(false)
		return
	}
	d.Ack(false)
}

func decodeSubmission(body []byte) (*models.Submission, error) {
	sub := new(models.Submission)
	if err := json.Unmarshal(body, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *RabbitMQHandler) route(d amqp.Delivery) replyRoute {
	route := replyRoute{queue: r.cfg.ResponseQueue, correlationID: d.CorrelationId}
	if d.ReplyTo != "" {
		route.queue = d.ReplyTo
	}
	if route.correlationID == "" {
		route.correlationID = d.MessageId
	}
	return route
}

// Notify publishes the final attempt to the reply queue of the submission's message.
func (r *RabbitMQHandler) Notify(_ context.Context, sub *models.Submission, attempt *models.Attempt) {
	v, ok := r.routes.LoadAndDelete(sub)
	if !ok {
		return
	}
	r.send(v.(replyRoute), mappers.AttemptToResponse(attempt))
}

func (r *RabbitMQHandler) send(route replyRoute, data *models.AttemptResponse) {
	if r.closed.Load() {
		return
	}
	body, err := json.Marshal(data)
	if err != nil {
		r.log.Error("failed to encode response", zap.Error(err))
		return
	}

	r.mu.Lock()
	ch := r.producerChan
	r.mu.Unlock()
	if ch == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err = ch.PublishWithContext(ctx, "", route.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: route.correlationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		r.log.Error("failed to send response to queue", zap.Int64("run_id", data.RunID), zap.Error(err))
	}
}

// StopConsuming cancels the consumer and waits for the listener to return. Replies
// for submissions already queued are still published until Close.
func (r *RabbitMQHandler) StopConsuming() {
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}
	r.stop()
	r.mu.Lock()
	ch := r.consumerChan
	r.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
	r.wg.Wait()
}

func (r *RabbitMQHandler) Close() error {
	r.StopConsuming()
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.producerChan != nil {
		r.producerChan.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
