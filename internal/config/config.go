package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CapabilityConfig holds the text-generation backend settings.
type CapabilityConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// SMTPConfig holds the delivery transport settings.
type SMTPConfig struct {
	Host       string
	Port       int
	Sender     string
	SenderName string
	Password   string
}

// DeliveryConfig holds retry policy settings.
type DeliveryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Config holds all runtime settings for the daemon.
type Config struct {
	Addr         string
	DBPath       string
	Workers      int
	TickInterval time.Duration
	ResearchDeep bool

	Capability CapabilityConfig
	SMTP       SMTPConfig
	Delivery   DeliveryConfig
}

const (
	defaultAddr         = ":8080"
	defaultDBPath       = "agentflow.db"
	defaultWorkers      = 4
	defaultTick         = time.Minute
	defaultModel        = "gemini-2.5-flash"
	defaultCallTimeout  = 30 * time.Second
	defaultSMTPHost     = "smtp.gmail.com"
	defaultSMTPPort     = 587
	defaultMaxAttempts  = 4
	defaultInitialDelay = time.Second
	defaultMaxDelay     = time.Minute
)

func getEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		l := strings.ToLower(v)
		return l == "true" || l == "1" || l == "yes"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Load builds the configuration from environment variables, reading an
// optional .env file first. Flags defined in main override the result.
func Load() *Config {
	_ = godotenv.Load(".env.local", ".env") // both optional

	return &Config{
		Addr:         getEnvString("AGENTFLOW_ADDR", defaultAddr),
		DBPath:       getEnvString("AGENTFLOW_DB", defaultDBPath),
		Workers:      getEnvInt("AGENTFLOW_WORKERS", defaultWorkers),
		TickInterval: getEnvDuration("AGENTFLOW_TICK", defaultTick),
		ResearchDeep: getEnvBool("AGENTFLOW_RESEARCH_DEEP", false),
		Capability: CapabilityConfig{
			BaseURL: getEnvString("OPENAI_BASE_URL", ""),
			APIKey:  getEnvString("OPENAI_API_KEY", ""),
			Model:   getEnvString("OPENAI_MODEL", defaultModel),
			Timeout: getEnvDuration("AGENTFLOW_CALL_TIMEOUT", defaultCallTimeout),
		},
		SMTP: SMTPConfig{
			Host:       getEnvString("SMTP_SERVER", defaultSMTPHost),
			Port:       getEnvInt("SMTP_PORT", defaultSMTPPort),
			Sender:     getEnvString("SENDER_EMAIL", ""),
			SenderName: getEnvString("SENDER_NAME", "agentflow"),
			Password:   getEnvString("SENDER_PASSWORD", ""),
		},
		Delivery: DeliveryConfig{
			MaxAttempts:    getEnvInt("AGENTFLOW_DELIVERY_MAX_ATTEMPTS", defaultMaxAttempts),
			InitialBackoff: getEnvDuration("AGENTFLOW_DELIVERY_BACKOFF", defaultInitialDelay),
			MaxBackoff:     getEnvDuration("AGENTFLOW_DELIVERY_MAX_BACKOFF", defaultMaxDelay),
		},
	}
}

// Validate reports settings that make whole subsystems unusable.
// A missing capability key is fatal (nothing can classify or generate);
// missing SMTP credentials only disable the notifier path, which the
// registry reports at first use.
func (c *Config) Validate() error {
	if c.Capability.APIKey == "" {
		return fmt.Errorf("capability backend: OPENAI_API_KEY is not set")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	return nil
}
