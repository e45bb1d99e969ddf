package config

import (
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env              string                     `mapstructure:"env"`
	LogLevel         string                     `mapstructure:"log_level"`
	LogType          string                     `mapstructure:"log_type"`
	ServiceName      string                     `mapstructure:"service_name"`
	Port             string                     `mapstructure:"port"`
	Version          string                     `mapstructure:"version"`
	WebhookSecret    string                     `mapstructure:"webhook_secret"`
	WorkerSettings   *WorkerConfig              `mapstructure:"worker"`
	BrowserSettings  *BrowserConfig             `mapstructure:"browser"`
	CacheSettings    *CacheConfig               `mapstructure:"cache"`
	DbSettings       *DatabaseConfig            `mapstructure:"database"`
	KafkaSettings    *KafkaConfig               `mapstructure:"kafka"`
	S3Settings       *S3Config                  `mapstructure:"s3"`
	ProviderSettings map[string]*ProviderConfig `mapstructure:"providers"`
}

type WorkerConfig struct {
	JobRetention time.Duration `mapstructure:"job_retention"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type BrowserConfig struct {
	UserAgent       string        `mapstructure:"user_agent"`
	NavigateTimeout time.Duration `mapstructure:"navigate_timeout"`
	LocateTimeout   time.Duration `mapstructure:"locate_timeout"`
	Headless        bool          `mapstructure:"headless"`
}

// ProviderConfig holds the per-operator portal heuristics. Keyword lists and
// delays are configuration on purpose: the portals change wording without
// notice, so none of this is treated as a fixed contract.
type ProviderConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	SearchSelectors []string      `mapstructure:"search_selectors"`
	SubmitSelectors []string      `mapstructure:"submit_selectors"`
	ExpandSelectors []string      `mapstructure:"expand_selectors"`
	SuccessKeywords []string      `mapstructure:"success_keywords"`
	NotFoundPhrases []string      `mapstructure:"not_found_phrases"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	ResultTimeout   time.Duration `mapstructure:"result_timeout"`
}

type CacheConfig struct {
	Servers      string        `mapstructure:"servers"`
	TtlForScrape time.Duration `mapstructure:"ttl_for_scrape"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type KafkaConfig struct {
	Producer *ProducerConfig `mapstructure:"producer"`
}

type ProducerConfig struct {
	Addr           string        `mapstructure:"addr"`
	WriteTopicName string        `mapstructure:"write_topic_name"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequiredAsks   int           `mapstructure:"required_acks"`
	Async          bool          `mapstructure:"async"`
}

type S3Config struct {
	AwsAccessKey    string `mapstructure:"aws_access_key"`
	AwsSecretKey    string `mapstructure:"aws_secret_key"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &cfg
}
