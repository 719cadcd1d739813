package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Otel       struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	OpsServer struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
	} `mapstructure:"OPS_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Vault struct {
		MountPath string `mapstructure:"MOUNT_PATH"`
	} `mapstructure:"VAULT"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Kafka struct {
		Addrs          string `mapstructure:"ADDR"`
		JobEventsTopic string `mapstructure:"JOB_EVENTS_TOPIC"`
	} `mapstructure:"KAFKA"`
	Collector CollectorConfig `mapstructure:"COLLECTOR"`
}

// CollectorConfig tunes the collection pipeline.
type CollectorConfig struct {
	Queue                string        `mapstructure:"QUEUE"`
	WorkerConcurrency    int           `mapstructure:"WORKER_CONCURRENCY"`
	ConcurrencyBackoff   time.Duration `mapstructure:"CONCURRENCY_BACKOFF"`
	JobTimeout           time.Duration `mapstructure:"JOB_TIMEOUT"`
	SweepInterval        time.Duration `mapstructure:"SWEEP_INTERVAL"`
	DefaultPriority      int           `mapstructure:"DEFAULT_PRIORITY"`
	ErrorMessageLimit    int           `mapstructure:"ERROR_MESSAGE_LIMIT"`
	TaskSplitConcurrency int           `mapstructure:"TASK_SPLIT_CONCURRENCY"`
	RuleCacheTTL         time.Duration `mapstructure:"RULE_CACHE_TTL"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "inventory-collector")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("OPS_SERVER.ADDR", "9090")
	v.SetDefault("OPS_SERVER.READ_TIMEOUT", 10*time.Second)
	v.SetDefault("OPS_SERVER.WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("VAULT.MOUNT_PATH", "secret")
	v.SetDefault("KAFKA.JOB_EVENTS_TOPIC", "inventory.collector.job")
	v.SetDefault("COLLECTOR.QUEUE", "collector")
	v.SetDefault("COLLECTOR.WORKER_CONCURRENCY", 10)
	v.SetDefault("COLLECTOR.CONCURRENCY_BACKOFF", 60*time.Second)
	v.SetDefault("COLLECTOR.JOB_TIMEOUT", 2*time.Hour)
	v.SetDefault("COLLECTOR.SWEEP_INTERVAL", time.Minute)
	v.SetDefault("COLLECTOR.DEFAULT_PRIORITY", 10)
	v.SetDefault("COLLECTOR.ERROR_MESSAGE_LIMIT", 1024)
	v.SetDefault("COLLECTOR.TASK_SPLIT_CONCURRENCY", 4)
	v.SetDefault("COLLECTOR.RULE_CACHE_TTL", 5*time.Minute)
}

// LoadConfig reads config.yaml from CONFIG_PATH (or the working directory)
// and overlays environment variables such as COLLECTOR_QUEUE.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if p, ok := os.LookupEnv("CONFIG_PATH"); ok {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
