package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	LogLevel      string
	LogDev        bool

	StoreBackend   string
	DatabaseURL    string
	DBMaxConns     int
	PersistTimeout time.Duration

	NATSURL           string
	NATSSubjectPrefix string

	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	OutboxSize     int
	CommandRate    float64
	CommandBurst   int
	AllowedOrigins []string

	RoomConfigFile string
	Limits         Limits
}

// Limits are the per-room show limits, overridable from ROOM_CONFIG_FILE.
type Limits struct {
	MinStrength     float64 `yaml:"min_strength"`
	MaxStrength     float64 `yaml:"max_strength"`
	DefaultStrength float64 `yaml:"default_strength"`
	MaxItems        int     `yaml:"max_items"`
	MaxLabelLength  int     `yaml:"max_label_length"`
	MaxPrizeLength  int     `yaml:"max_prize_length"`
}

func DefaultLimits() Limits {
	return Limits{
		MinStrength:     3,
		MaxStrength:     10,
		DefaultStrength: 5,
		MaxItems:        100,
		MaxLabelLength:  50,
		MaxPrizeLength:  200,
	}
}

type roomFile struct {
	Limits Limits `yaml:"limits"`
}

// Load reads .env (if present), the environment and the optional room config file.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:5173"), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogDev:        getEnvAsBool("LOG_DEV", false),

		StoreBackend:   getEnv("STORE_BACKEND", BackendMemory),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxConns:     getEnvAsInt("DB_MAX_CONNS", 10),
		PersistTimeout: getEnvAsDuration("PERSIST_TIMEOUT", 5*time.Second),

		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "gasha.rooms"),

		WSReadTimeout:  getEnvAsDuration("WS_READ_TIMEOUT", 30*time.Second),
		WSWriteTimeout: getEnvAsDuration("WS_WRITE_TIMEOUT", 3*time.Second),
		OutboxSize:     getEnvAsInt("OUTBOX_SIZE", 32),
		CommandRate:    getEnvAsFloat("COMMAND_RATE", 20),
		CommandBurst:   getEnvAsInt("COMMAND_BURST", 40),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),

		RoomConfigFile: getEnv("ROOM_CONFIG_FILE", ""),
		Limits:         DefaultLimits(),
	}

	if cfg.RoomConfigFile != "" {
		if err := cfg.loadRoomFile(cfg.RoomConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRoomFile overlays the limits found in path; keys left out keep their defaults.
func (c *Config) loadRoomFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read room config: %w", err)
	}

	file := roomFile{Limits: c.Limits}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse room config: %w", err)
	}
	c.Limits = file.Limits
	return nil
}

func (c *Config) Validate() error {
	var problems []string

	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	l := c.Limits
	if l.MinStrength <= 0 || l.MaxStrength <= 0 {
		problems = append(problems, "strengths must be positive")
	}
	if l.MinStrength > l.MaxStrength {
		problems = append(problems, "min_strength is above max_strength")
	}
	if l.DefaultStrength < l.MinStrength || l.DefaultStrength > l.MaxStrength {
		problems = append(problems, "default_strength is outside [min_strength, max_strength]")
	}
	if l.MaxItems <= 0 || l.MaxLabelLength <= 0 || l.MaxPrizeLength <= 0 {
		problems = append(problems, "item limits must be positive")
	}
	if c.OutboxSize <= 0 {
		problems = append(problems, "OUTBOX_SIZE must be positive")
	}
	if c.CommandRate <= 0 || c.CommandBurst <= 0 {
		problems = append(problems, "COMMAND_RATE and COMMAND_BURST must be positive")
	}
	if c.DBMaxConns <= 0 {
		problems = append(problems, "DB_MAX_CONNS must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
