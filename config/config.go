package config

import (
	"errors"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                string            `mapstructure:"env"`
	LogLevel           string            `mapstructure:"log_level"`
	LogType            string            `mapstructure:"log_type"`
	ServiceName        string            `mapstructure:"service_name"`
	Port               string            `mapstructure:"port"`
	Version            string            `mapstructure:"version"`
	WorkerSettings     *WorkerConfig     `mapstructure:"worker"`
	SourceSettings     *SourceConfig     `mapstructure:"source"`
	StorageSettings    *StorageConfig    `mapstructure:"storage"`
	ReportSettings     *ReportConfig     `mapstructure:"report"`
	CacheSettings      *CacheConfig      `mapstructure:"cache"`
	DbSettings         *DatabaseConfig   `mapstructure:"database"`
	KafkaSettings      *KafkaConfig      `mapstructure:"kafka"`
	S3Settings         *S3Config         `mapstructure:"s3"`
	TelemetrySettings  *TelemetryConfig  `mapstructure:"telemetry"`
	HttpClientSettings *HttpClientConfig `mapstructure:"http_client"`
}

type WorkerConfig struct {
	WorkersNum          int           `mapstructure:"workers_num"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	RetryableStatuses   []int         `mapstructure:"retryable_statuses"`
	UserAgent           string        `mapstructure:"user_agent"`
	ValidateContentType bool          `mapstructure:"validate_content_type"`
}

type SourceConfig struct {
	Type            string `mapstructure:"type"`
	FilePath        string `mapstructure:"file_path"`
	SheetName       string `mapstructure:"sheet_name"`
	IdColumn        string `mapstructure:"id_column"`
	UrlColumn       string `mapstructure:"url_column"`
	BackupUrlColumn string `mapstructure:"backup_url_column"`
}

type StorageConfig struct {
	Type        string `mapstructure:"type"`
	DownloadDir string `mapstructure:"download_dir"`
}

type ReportConfig struct {
	OutputDir        string `mapstructure:"output_dir"`
	ReportsFile      string `mapstructure:"reports_file"`
	StatusCountsFile string `mapstructure:"status_counts_file"`
	SummaryFile      string `mapstructure:"summary_file"`
	ProgressEvery    int    `mapstructure:"progress_every"`
}

type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Servers      []string      `mapstructure:"servers"`
	TtlForRecord time.Duration `mapstructure:"ttl_for_record"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
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
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Addr                []string      `mapstructure:"addr"`
	DeadLetterTopicName string        `mapstructure:"dlq_topic_name"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RequiredAsks        int           `mapstructure:"required_acks"`
	Async               bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          []string      `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	MaxBytes         int           `mapstructure:"max_bytes"`
	CommitInterval   time.Duration `mapstructure:"commit_interval"`
}

type S3Config struct {
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

type HttpClientConfig struct {
	RequestTimeout            time.Duration `mapstructure:"request_timeout"`
	MaxIdleConnections        int           `mapstructure:"max_idle_connections"`
	MaxIdleConnectionsPerHost int           `mapstructure:"max_idle_connections_per_host"`
	MaxConnectionsPerHost     int           `mapstructure:"max_connections_per_host"`
	IdleConnectionTimeout     time.Duration `mapstructure:"idle_connection_timeout"`
	TlsHandshakeTimeout       time.Duration `mapstructure:"tls_handshake_timeout"`
	DialTimeout               time.Duration `mapstructure:"dial_timeout"`
	DialKeepAlive             time.Duration `mapstructure:"dial_keep_alive"`
	TlsInsecureSkipVerify     bool          `mapstructure:"tls_insecure_skip_verify"`
}

func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.AutomaticEnv()
	setDefaults()

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			slog.Warn("config file not found. running with defaults.")
		} else {
			slog.Error("can't initialize config file.", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &cfg
}

func setDefaults() {
	viper.SetDefault("env", "local")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_type", "text")
	viper.SetDefault("service_name", "report-downloader")
	viper.SetDefault("port", "8080")
	viper.SetDefault("version", "1.0.0")

	viper.SetDefault("worker.workers_num", 5)
	viper.SetDefault("worker.retry_attempts", 3)
	viper.SetDefault("worker.retry_delay", 1*time.Second)
	viper.SetDefault("worker.retryable_statuses", []int{500, 502, 503, 504})
	viper.SetDefault("worker.user_agent", "report-downloader/1.0")
	viper.SetDefault("worker.validate_content_type", true)

	viper.SetDefault("source.type", "file")
	viper.SetDefault("source.file_path", "data/reports.xlsx")
	viper.SetDefault("source.id_column", "BRnum")
	viper.SetDefault("source.url_column", "Pdf_URL")
	viper.SetDefault("source.backup_url_column", "Report Html Address")

	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.download_dir", "downloads")

	viper.SetDefault("report.output_dir", "output")
	viper.SetDefault("report.reports_file", "downloaded_reports.csv")
	viper.SetDefault("report.status_counts_file", "status_codes_count.csv")
	viper.SetDefault("report.summary_file", "summary.json")
	viper.SetDefault("report.progress_every", 10)

	// Optional integrations are off unless the config file turns them on.
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("kafka.producer.enabled", false)

	viper.SetDefault("http_client.request_timeout", 10*time.Second)
	viper.SetDefault("http_client.max_idle_connections", 100)
	viper.SetDefault("http_client.max_idle_connections_per_host", 10)
	viper.SetDefault("http_client.max_connections_per_host", 0)
	viper.SetDefault("http_client.idle_connection_timeout", 90*time.Second)
	viper.SetDefault("http_client.tls_handshake_timeout", 10*time.Second)
	viper.SetDefault("http_client.dial_timeout", 10*time.Second)
	viper.SetDefault("http_client.dial_keep_alive", 30*time.Second)
}
