package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Insecure defaults that must never reach production.
var insecureDefaults = map[string]bool{
	"internal-secret":         true,
	"internal-service-secret": true,
	"":                        true,
}

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Gateway        GatewayConfig
	Reconciler     ReconcilerConfig
	Ports          PortsConfig
	InternalSecret string
}

// ServerConfig holds the HTTP surface knobs, including the rate limit on
// the provisioning create path.
type ServerConfig struct {
	Port             string
	Mode             string
	CreateRateLimit  int
	CreateRateWindow time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Schema   string
	SSLMode  string
}

// GatewayConfig holds the retry and identity knobs for remote panel calls.
// NamingTemplate must contain a single %s that receives the config ID; the
// resulting address doubles as the idempotency key for panel creates.
type GatewayConfig struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	RequestTimeout time.Duration
	NamingTemplate string
}

// ReconcilerConfig bounds the periodic reconciliation jobs.
type ReconcilerConfig struct {
	ExpiryInterval      time.Duration
	QuotaInterval       time.Duration
	UsageSyncInterval   time.Duration
	HealthSweepInterval time.Duration
	BatchSize           int
	RunDeadline         time.Duration
}

// PortsConfig maps each proxy protocol to the inbound port gateways expose.
type PortsConfig struct {
	Vless       int
	Vmess       int
	Shadowsocks int
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:             getEnv("SERVER_PORT", "8006"),
			Mode:             getEnv("GIN_MODE", "release"),
			CreateRateLimit:  getEnvInt("CREATE_RATE_LIMIT", 30),
			CreateRateWindow: getEnvDuration("CREATE_RATE_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "saas_user"),
			Password: getEnv("DB_PASSWORD", "saas_pass"),
			DBName:   getEnv("DB_NAME", "saas_db"),
			Schema:   getEnv("DB_SCHEMA", "provisioner"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Gateway: GatewayConfig{
			MaxAttempts:    getEnvInt("GATEWAY_MAX_ATTEMPTS", 3),
			BackoffBase:    getEnvDuration("GATEWAY_BACKOFF_BASE", 500*time.Millisecond),
			RequestTimeout: getEnvDuration("GATEWAY_REQUEST_TIMEOUT", 15*time.Second),
			NamingTemplate: getEnv("GATEWAY_NAMING_TEMPLATE", "cfg-%s@proxy.invalid"),
		},
		Reconciler: ReconcilerConfig{
			ExpiryInterval:      getEnvDuration("RECONCILE_EXPIRY_INTERVAL", 5*time.Minute),
			QuotaInterval:       getEnvDuration("RECONCILE_QUOTA_INTERVAL", 5*time.Minute),
			UsageSyncInterval:   getEnvDuration("RECONCILE_USAGE_INTERVAL", 10*time.Minute),
			HealthSweepInterval: getEnvDuration("RECONCILE_HEALTH_INTERVAL", 15*time.Minute),
			BatchSize:           getEnvInt("RECONCILE_BATCH_SIZE", 200),
			RunDeadline:         getEnvDuration("RECONCILE_RUN_DEADLINE", 2*time.Minute),
		},
		Ports: PortsConfig{
			Vless:       getEnvInt("NODE_VLESS_PORT", 443),
			Vmess:       getEnvInt("NODE_VMESS_PORT", 8443),
			Shadowsocks: getEnvInt("NODE_SS_PORT", 8388),
		},
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	log.Printf("[config] Proxy Provisioner loaded: port=%s db=%s/%s.%s attempts=%d",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Database.Schema,
		cfg.Gateway.MaxAttempts)

	return cfg
}

// Validate checks the configuration; production must not run with
// insecure secrets or an unusable naming template.
func (c *Config) Validate() error {
	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}
	if c.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("GATEWAY_MAX_ATTEMPTS must be at least 1")
	}
	if strings.Count(c.Gateway.NamingTemplate, "%s") != 1 {
		return fmt.Errorf("GATEWAY_NAMING_TEMPLATE must contain exactly one %%s placeholder")
	}
	if c.Reconciler.BatchSize < 1 {
		return fmt.Errorf("RECONCILE_BATCH_SIZE must be at least 1")
	}
	if c.Server.CreateRateLimit < 1 {
		return fmt.Errorf("CREATE_RATE_LIMIT must be at least 1")
	}
	if c.Server.CreateRateWindow <= 0 {
		return fmt.Errorf("CREATE_RATE_WINDOW must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
