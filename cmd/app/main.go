package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cutekitek/rankode-judge/internal/compiler"
	"github.com/cutekitek/rankode-judge/internal/config"
	"github.com/cutekitek/rankode-judge/internal/files"
	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/logger"
	"github.com/cutekitek/rankode-judge/internal/rabbitmq"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/internal/runner/isolate"
	"github.com/cutekitek/rankode-judge/internal/runner/process"
	"github.com/cutekitek/rankode-judge/internal/runner/sandbox"
	"github.com/cutekitek/rankode-judge/internal/samples"
	"github.com/cutekitek/rankode-judge/internal/service"
	"github.com/cutekitek/rankode-judge/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func panicErr(err error) {
	if err != nil {
		panic(err)
	}
}

func sampleSource(cfg *config.Config) (samples.Source, error) {
	if cfg.SamplesSource == config.SamplesMinIO {
		storage, err := files.NewFileStorage(files.Config{
			Url:      cfg.MinIOHost,
			Login:    cfg.MinIOLogin,
			Password: cfg.MinIOPassword,
			Bucket:   cfg.MinIOBucket,
			Prefix:   cfg.MinIOPrefix,
			UseSSL:   cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, err
		}
		return storage, nil
	}
	return samples.NewDirSource(cfg.SamplesDir), nil
}

func executor(cfg *config.Config, log *zap.Logger) (runner.Runner, func(), error) {
	switch cfg.Executor {
	case config.ExecutorIsolate:
		ir := isolate.NewIsolateRunner(isolate.IsolateRunnerConfig{
			ExecPath:      cfg.IsolatePath,
			MaxBoxCount:   cfg.SandboxPoolSize,
			MaxOutputSize: cfg.MaxOutputSize,
		}, log.Named("isolate"))
		if err := ir.Init(); err != nil {
			return nil, nil, err
		}
		return ir, func() {}, nil
	case config.ExecutorSandbox:
		sb := sandbox.NewSandboxRunner(sandbox.SandboxRunnerConfig{
			ContainersPoolSize: cfg.SandboxPoolSize,
			MaxOutputSize:      cfg.MaxOutputSize,
		}, log.Named("sandbox"))
		if err := sb.Init(); err != nil {
			return nil, nil, err
		}
		return sb, sb.Close, nil
	}
	return process.NewRunner(process.Config{MaxOutputSize: cfg.MaxOutputSize}, log.Named("process")), func() {}, nil
}

func languages(cfg *config.Config) (compiler.Table, error) {
	if cfg.LanguagesFile == "" {
		return compiler.DefaultTable(), nil
	}
	return compiler.LoadTable(cfg.LanguagesFile)
}

// reconcile settles runs left Judging by a crashed or stuck task.
func reconcile(ctx context.Context, st *store.Store, cfg *config.Config, log *zap.Logger) error {
	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			settled, err := st.ReconcileStale(cfg.StaleAfter, now)
			if err != nil {
				log.Error("failed to reconcile stale runs", zap.Error(err))
				continue
			}
			if len(settled) > 0 {
				log.Warn("settled stale runs", zap.Int64s("run_ids", settled))
			}
		}
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.NewConfig(*configPath)
	panicErr(err)
	log, err := logger.New(cfg.LogLevel)
	panicErr(err)
	defer log.Sync()

	langs, err := languages(cfg)
	panicErr(err)
	src, err := sampleSource(cfg)
	panicErr(err)
	run, closeRunner, err := executor(cfg, log)
	panicErr(err)
	defer closeRunner()

	panicErr(os.MkdirAll(filepath.Dir(cfg.StorePath), 0755))
	st, err := store.Open(cfg.StorePath)
	panicErr(err)
	defer st.Close()

	// runs still judging at startup were interrupted by the previous process
	if settled, err := st.ReconcileInterrupted(time.Now()); err != nil {
		log.Error("failed to reconcile runs at startup", zap.Error(err))
	} else if len(settled) > 0 {
		log.Warn("settled runs interrupted by restart", zap.Int64s("run_ids", settled))
	}

	comp := compiler.New(compiler.Config{WorkRoot: cfg.WorkRoot, BuildTimeout: cfg.BuildTimeout}, langs, log.Named("compiler"))
	coordinator := judge.NewCoordinator(judge.Config{MaxOutputSize: cfg.MaxOutputSize}, comp, samples.NewLoader(src), run, st, log.Named("judge"))
	svc := service.New(service.Config{
		SourceRoot: cfg.SourceRoot,
		Workers:    cfg.WorkersCount,
		QueueSize:  cfg.QueueSize,
	}, langs, st, coordinator, log.Named("service"))

	listener := rabbitmq.NewRabbitMQHandler(rabbitmq.RabbitMqHandlerConfig{
		Login:         cfg.RabbitMQUser,
		Password:      cfg.RabbitMQPassword,
		Host:          cfg.RabbitMQHost,
		Port:          cfg.RabbitMQPort,
		RequestQueue:  cfg.RabbitMQRequestQueue,
		ResponseQueue: cfg.RabbitMQResponseQueue,
		Prefetch:      cfg.RabbitMQPrefetch,
	}, svc, log.Named("rabbitmq"))
	svc.SetNotifier(listener)
	svc.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	if cfg.RabbitMQEnabled {
		g.Go(func() error {
			if err := listener.Start(); err != nil {
				return err
			}
			<-gctx.Done()
			listener.StopConsuming()
			return nil
		})
	}
	g.Go(func() error {
		return reconcile(gctx, st, cfg, log)
	})

	log.Info("app started", zap.String("executor", cfg.Executor), zap.Int("workers", cfg.WorkersCount))
	if err := g.Wait(); err != nil {
		log.Error("shutting down", zap.Error(err))
	}

	svc.Close()
	listener.Close()
	log.Info("app stopped")
}
