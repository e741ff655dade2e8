package config

import (
	"os"
	"runtime"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

const (
	SamplesDir   = "dir"
	SamplesMinIO = "minio"

	ExecutorProcess = "process"
	ExecutorSandbox = "sandbox"
	ExecutorIsolate = "isolate"
)

type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	SamplesSource string `yaml:"samples_source" env:"SAMPLES_SOURCE" env-default:"dir"`
	SamplesDir    string `yaml:"samples_dir" env:"SAMPLES_DIR" env-default:"data/samples"`
	MinIOHost     string `yaml:"minio_host" env:"MINIO_HOST" env-default:"127.0.0.1:9000"`
	MinIOLogin    string `yaml:"minio_login" env:"MINIO_LOGIN"`
	MinIOPassword string `yaml:"minio_password" env:"MINIO_PASSWORD"`
	MinIOBucket   string `yaml:"minio_bucket" env:"MINIO_BUCKET" env-default:"samples"`
	MinIOPrefix   string `yaml:"minio_prefix" env:"MINIO_PREFIX"`
	MinIOUseSSL   bool   `yaml:"minio_ssl" env:"MINIO_SSL" env-default:"false"`

	WorkRoot      string        `yaml:"work_root" env:"WORK_ROOT" env-default:"/tmp/rankode-judge"`
	SourceRoot    string        `yaml:"source_root" env:"SOURCE_ROOT" env-default:"data/submissions"`
	LanguagesFile string        `yaml:"languages_file" env:"LANGUAGES_FILE"`
	BuildTimeout  time.Duration `yaml:"build_timeout" env:"BUILD_TIMEOUT" env-default:"10s"`
	MaxOutputSize int64         `yaml:"max_output_size" env:"MAX_OUTPUT_SIZE" env-default:"67108864"`

	Executor string `yaml:"executor" env:"EXECUTOR" env-default:"process"`
	// containers of the sandbox executor or boxes of the isolate executor
	SandboxPoolSize int    `yaml:"sandbox_pool_size" env:"SANDBOX_POOL_SIZE" env-default:"0"`
	IsolatePath     string `yaml:"isolate_path" env:"ISOLATE_PATH" env-default:"isolate"`
	WorkersCount    int    `yaml:"workers_count" env:"WORKERS_COUNT" env-default:"0"`
	QueueSize       int    `yaml:"queue_size" env:"QUEUE_SIZE" env-default:"64"`
	StorePath       string `yaml:"store_path" env:"STORE_PATH" env-default:"data/attempts.db"`

	StaleAfter        time.Duration `yaml:"stale_after" env:"STALE_AFTER" env-default:"10m"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"RECONCILE_INTERVAL" env-default:"1m"`

	RabbitMQEnabled       bool   `yaml:"rabbit_enabled" env:"RABBIT_ENABLED" env-default:"true"`
	RabbitMQHost          string `yaml:"rabbit_host" env:"RABBIT_HOST" env-default:"127.0.0.1"`
	RabbitMQPort          int    `yaml:"rabbit_port" env:"RABBIT_PORT" env-default:"5672"`
	RabbitMQUser          string `yaml:"rabbit_user" env:"RABBIT_USER" env-default:"guest"`
	RabbitMQPassword      string `yaml:"rabbit_password" env:"RABBIT_PASSWORD" env-default:"guest"`
	RabbitMQRequestQueue  string `yaml:"rabbit_request_queue" env:"RABBIT_REQUEST_QUEUE" env-default:"judge-req"`
	RabbitMQResponseQueue string `yaml:"rabbit_response_queue" env:"RABBIT_RESPONSE_QUEUE" env-default:"judge-resp"`
	RabbitMQPrefetch      int    `yaml:"rabbit_prefetch" env:"RABBIT_PREFETCH" env-default:"0"`
}

// NewConfig reads path when it exists and the environment otherwise. Environment
// variables override values from the file.
func NewConfig(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if _, statErr := os.Stat(path); path != "" && statErr == nil {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.WorkersCount <= 0 {
		c.WorkersCount = runtime.NumCPU()
	}
	if c.SandboxPoolSize <= 0 {
		c.SandboxPoolSize = c.WorkersCount
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Minute
	}
	if c.RabbitMQPrefetch <= 0 {
		c.RabbitMQPrefetch = c.WorkersCount
	}
	switch c.SamplesSource {
	case SamplesDir, SamplesMinIO:
	default:
		return errors.Errorf("unknown samples source %q", c.SamplesSource)
	}
	switch c.Executor {
	case ExecutorProcess, ExecutorSandbox, ExecutorIsolate:
	default:
		return errors.Errorf("unknown executor %q", c.Executor)
	}
	if c.SamplesSource == SamplesMinIO && (c.MinIOLogin == "" || c.MinIOPassword == "") {
		return errors.New("minio credentials are required for the minio samples source")
	}
	return nil
}
