package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the shared configuration of the live services. Values come from
// an optional yaml file and are then overridden by environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Match     MatchConfig     `yaml:"match"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	NATS      NATSConfig      `yaml:"nats"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Viewer    ViewerConfig    `yaml:"viewer"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type MatchConfig struct {
	StartingScore    int  `yaml:"starting_score"`
	StrictAssignment bool `yaml:"strict_assignment"`
}

type WebSocketConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBufferSize int           `yaml:"send_buffer_size"`
}

// NATSConfig configures the bus. An empty URL disables it.
type NATSConfig struct {
	URL            string `yaml:"url"`
	StreamName     string `yaml:"stream_name"`
	SubjectPrefix  string `yaml:"subject_prefix"`
	ControlStream  string `yaml:"control_stream"`
	ControlSubject string `yaml:"control_subject"`
	ConsumerName   string `yaml:"consumer_name"`
}

type OutboxConfig struct {
	QueueSize  int           `yaml:"queue_size"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

type ViewerConfig struct {
	GatewayURL     string        `yaml:"gateway_url"`
	TournamentCode string        `yaml:"tournament_code"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8081",
			AllowedOrigins: []string{"*"},
		},
		Match: MatchConfig{
			StartingScore: 501,
		},
		WebSocket: WebSocketConfig{
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			PingInterval:   30 * time.Second,
			MaxMessageSize: 64 * 1024,
			SendBufferSize: 256,
		},
		NATS: NATSConfig{
			StreamName:     "DARTS_LIVE",
			SubjectPrefix:  "darts.live",
			ControlStream:  "DARTS_CONTROL",
			ControlSubject: "darts.control.>",
			ConsumerName:   "live-gateway",
		},
		Outbox: OutboxConfig{
			QueueSize:  256,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "darts",
			SSLMode:  "disable",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Viewer: ViewerConfig{
			GatewayURL:   "http://localhost:8081",
			PollInterval: 7 * time.Second,
		},
	}
}

// Load reads the yaml file at path if it exists and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}

	c.Match.StartingScore = getEnvAsInt("STARTING_SCORE", c.Match.StartingScore)
	c.Match.StrictAssignment = getEnvAsBool("STRICT_ASSIGNMENT", c.Match.StrictAssignment)

	c.WebSocket.WriteTimeout = getEnvAsDuration("WS_WRITE_TIMEOUT", c.WebSocket.WriteTimeout)
	c.WebSocket.ReadTimeout = getEnvAsDuration("WS_READ_TIMEOUT", c.WebSocket.ReadTimeout)
	c.WebSocket.PingInterval = getEnvAsDuration("WS_PING_INTERVAL", c.WebSocket.PingInterval)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.StreamName = getEnv("NATS_STREAM", c.NATS.StreamName)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
	c.NATS.ControlStream = getEnv("NATS_CONTROL_STREAM", c.NATS.ControlStream)
	c.NATS.ControlSubject = getEnv("NATS_CONTROL_SUBJECT", c.NATS.ControlSubject)

	c.Outbox.QueueSize = getEnvAsInt("OUTBOX_QUEUE_SIZE", c.Outbox.QueueSize)
	c.Outbox.MaxRetries = getEnvAsInt("OUTBOX_MAX_RETRIES", c.Outbox.MaxRetries)

	c.Database.applyEnv()

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Viewer.GatewayURL = getEnv("GATEWAY_URL", c.Viewer.GatewayURL)
	c.Viewer.TournamentCode = getEnv("TOURNAMENT_CODE", c.Viewer.TournamentCode)
	c.Viewer.PollInterval = getEnvAsDuration("VIEWER_POLL_INTERVAL", c.Viewer.PollInterval)
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Match.StartingScore <= 0 {
		errs = append(errs, fmt.Errorf("match.starting_score must be positive, got %d", c.Match.StartingScore))
	}
	if c.Viewer.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("viewer.poll_interval must be positive, got %s", c.Viewer.PollInterval))
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		errs = append(errs, errors.New("nats.subject_prefix is required when nats.url is set"))
	}
	return errors.Join(errs...)
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
