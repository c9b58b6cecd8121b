package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Planner      PlannerConfig      `yaml:"planner"`
	JourneyGuard JourneyGuardConfig `yaml:"journeyguard"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString собирает DSN для pgx.
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
	PositionUpdatedTopicName string `yaml:"position_updated_topic_name"`
	JourneyAlertsTopicName   string `yaml:"journey_alerts_topic_name"`
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

// MQTTConfig: пустой Broker выключает подписку на устройства.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// PlannerConfig: пустой BaseURL означает локальный fake-планировщик.
type PlannerConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type JourneyGuardConfig struct {
	HTTPAddr                   string `yaml:"http_addr"`
	KafkaConsumerGroup         string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds    int    `yaml:"current_status_ttl_seconds"`
	PositionRateLimitPerMinute int    `yaml:"position_rate_limit_per_minute"`

	RelayPollIntervalSeconds int `yaml:"relay_poll_interval_seconds"`
	RelayBatchSize           int `yaml:"relay_batch_size"`
	RelayConcurrency         int `yaml:"relay_concurrency"`
	RelayLeaseSeconds        int `yaml:"relay_lease_seconds"`
	RelayRateLimitPerMinute  int `yaml:"relay_rate_limit_per_minute"`
	RelayBackoff1Seconds     int `yaml:"relay_backoff_1_seconds"`
	RelayBackoff2Seconds     int `yaml:"relay_backoff_2_seconds"`
	RelayBackoff3Seconds     int `yaml:"relay_backoff_3_seconds"`
	RelayBackoff4Seconds     int `yaml:"relay_backoff_4_seconds"`
	RelayMaxJitterSeconds    int `yaml:"relay_max_jitter_seconds"`

	RelayHTTPAddr string `yaml:"relay_http_addr"`

	AlertSink string `yaml:"alert_sink"` // "kafka" (default) | "rabbitmq"
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
