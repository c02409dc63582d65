package config

import (
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

// 签名校验模式
const (
	SignatureModeStrict     = "strict"
	SignatureModePermissive = "permissive"
)

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"statusbridge"`

	// PostgreSQL 配置
	PostgreSQLHost     string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string `env:"POSTGRESQL_DATABASE" envDefault:"statusbridge"`
	PostgreSQLSchema   string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen  int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"sbr"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// 下游转发与告警的交换机配置
	EventExchange   string `env:"EVENT_EXCHANGE" envDefault:"statusbridge.events"`
	EventRoutingKey string `env:"EVENT_ROUTING_KEY" envDefault:"webhook.raw"`
	AlertExchange   string `env:"ALERT_EXCHANGE" envDefault:"statusbridge.alerts"`
	AlertRoutingKey string `env:"ALERT_ROUTING_KEY" envDefault:"ops.alert"`

	// Webhook 校验配置
	WebhookVerifyToken   string `env:"WEBHOOK_VERIFY_TOKEN"`
	WebhookSigningSecret string `env:"WEBHOOK_SIGNING_SECRET"`
	// strict: 签名不合法直接拒绝；permissive: 仅记录日志（只用于非生产排障）
	SignatureEnforcementMode string `env:"SIGNATURE_ENFORCEMENT_MODE" envDefault:"strict"`

	// 关联窗口与兜底阈值
	CorrelationWindowMinutes   int `env:"CORRELATION_WINDOW_MINUTES" envDefault:"5"`
	StuckMessageThresholdHours int `env:"STUCK_MESSAGE_THRESHOLD_HOURS" envDefault:"12"`
	ReconcileReplayDays        int `env:"RECONCILE_REPLAY_DAYS" envDefault:"60"`
	SweepIntervalMinutes       int `env:"SWEEP_INTERVAL_MINUTES" envDefault:"60"`

	// 告警限流表：每类别 {最大次数, 窗口秒数}
	AlertWebhookFailureMax    int `env:"ALERT_WEBHOOK_FAILURE_MAX" envDefault:"1"`
	AlertWebhookFailureWindow int `env:"ALERT_WEBHOOK_FAILURE_WINDOW_SECONDS" envDefault:"3600"`
	AlertAccountBannedMax     int `env:"ALERT_ACCOUNT_BANNED_MAX" envDefault:"10"`
	AlertAccountBannedWindow  int `env:"ALERT_ACCOUNT_BANNED_WINDOW_SECONDS" envDefault:"60"`
	AlertSendFailureMax       int `env:"ALERT_SEND_FAILURE_MAX" envDefault:"5"`
	AlertSendFailureWindow    int `env:"ALERT_SEND_FAILURE_WINDOW_SECONDS" envDefault:"3600"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// OpenTelemetry 配置
	OTLPEndpoint string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTelEnabled  bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelSampler  float64 `env:"OTEL_SAMPLER" envDefault:"0.1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// 号码哈希盐值，用于告警限流 key，避免明文手机号进入 Redis
	PhoneHashSalt string `env:"PHONEHASH_SALT"`
}

func init() {

	if err := godotenv.Load(); err != nil {

		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}

	validateConfig()
}

func validateConfig() {
	mode := strings.ToLower(Cfg.SignatureEnforcementMode)
	if mode != SignatureModeStrict && mode != SignatureModePermissive {
		log.Printf("WARN: unknown SIGNATURE_ENFORCEMENT_MODE %q, falling back to strict", Cfg.SignatureEnforcementMode)
		mode = SignatureModeStrict
	}
	Cfg.SignatureEnforcementMode = mode

	if Cfg.WebhookVerifyToken == "" {
		log.Printf("WARN: WEBHOOK_VERIFY_TOKEN is not set, subscription handshake will always fail")
	}

	if Cfg.WebhookSigningSecret == "" {
		log.Printf("WARN: WEBHOOK_SIGNING_SECRET is not set, signature verification will always fail")
	}

	if Cfg.SignatureEnforcementMode == SignatureModePermissive && Cfg.IsProduction() {
		log.Printf("WARN: permissive signature mode enabled in production, unauthenticated webhooks will be processed")
	}

	if Cfg.CorrelationWindowMinutes <= 0 {
		log.Printf("WARN: CORRELATION_WINDOW_MINUTES must be positive, using default 5")
		Cfg.CorrelationWindowMinutes = 5
	}

	if Cfg.StuckMessageThresholdHours <= 0 {
		log.Printf("WARN: STUCK_MESSAGE_THRESHOLD_HOURS must be positive, using default 12")
		Cfg.StuckMessageThresholdHours = 12
	}
}

func (c *Config) GetDSN() string {
	return "host=" + c.PostgreSQLHost +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) CorrelationWindow() time.Duration {
	return time.Duration(c.CorrelationWindowMinutes) * time.Minute
}

func (c *Config) StuckMessageThreshold() time.Duration {
	return time.Duration(c.StuckMessageThresholdHours) * time.Hour
}

func (c *Config) StrictSignature() bool {
	return c.SignatureEnforcementMode != SignatureModePermissive
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
