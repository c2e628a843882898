package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Carrier   CarrierConfig   `yaml:"carrier"`
	Rating    RatingConfig    `yaml:"rating"`
	Auth      AuthConfig      `yaml:"auth"`
	ShipTrack ShipTrackConfig `yaml:"shiptrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	TrackingUpdatedTopicName string `yaml:"tracking_updated_topic_name"`
	CarrierUpdatesTopicName  string `yaml:"carrier_updates_topic_name"`
	NotificationsTopicName   string `yaml:"notifications_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig: S3-совместимое хранилище для доказательств доставки.
// Пустой bucket означает, что файлы раздаёт сам backend (/proof/...).
type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UsePathStyle  bool   `yaml:"use_path_style"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type CarrierConfig struct {
	AfterShipBaseURL string `yaml:"aftership_base_url"`
	AfterShipAPIKey  string `yaml:"aftership_api_key"`

	EmulatorBaseURL string `yaml:"emulator_base_url"`
	EmulatorAPIKey  string `yaml:"emulator_api_key"`

	Track24BaseURL string `yaml:"track24_base_url"`
	Track24APIKey  string `yaml:"track24_api_key"`
	Track24Domain  string `yaml:"track24_domain"`

	TimeoutSeconds     int `yaml:"timeout_seconds"`
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	// source -> лимит в минуту, перекрывает общий
	RateLimits map[string]int `yaml:"rate_limits"`

	WebhookSecret      string `yaml:"webhook_secret"`
	WebhookSkewSeconds int    `yaml:"webhook_skew_seconds"`
}

type RatingConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	TTLHours int    `yaml:"ttl_hours"`
	LinkURL  string `yaml:"link_url"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type ShipTrackConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	CurrentStatusTTLSeconds int `yaml:"current_status_ttl_seconds"`
	LockTTLSeconds          int `yaml:"lock_ttl_seconds"`
	LiveFetchTimeoutSeconds int `yaml:"live_fetch_timeout_seconds"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int `yaml:"worker_batch_size"`
	WorkerConcurrency         int `yaml:"worker_concurrency"`

	BackendURL      string `yaml:"backend_url"`
	FrontendURL     string `yaml:"frontend_url"`
	MockProofSource string `yaml:"mock_proof_source"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
