// Package config loads the service configuration from a TOML file with
// sensible defaults for everything except credentials.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"
	DefaultPGHost     = "127.0.0.1"
	DefaultPGPort     = 5432
	DefaultPGUser     = "postgres"
	DefaultPGDatabase = "medassist"
	DefaultPGSSLMode  = "disable"

	// Telegram shows a typing indicator for about five seconds, so the
	// refresh interval has to stay under that.
	DefaultTypingIntervalSec = 4

	DefaultReplyDelaySec      = 60
	DefaultAckCooldownSec     = 3600
	DefaultRunTimeoutSec      = 600
	DefaultPollIntervalMs     = 2000
	DefaultIdleWaitTimeoutSec = 90
	DefaultInsertMaxAttempts  = 3
	DefaultLockTTLSec         = 180
	DefaultLockAcquireSec     = 120
	DefaultLockPollMs         = 200

	DefaultFirstChunkLimit  = 1500
	DefaultSecondChunkLimit = 2500
	DefaultHardChunkLimit   = 4096
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Telegram TelegramConfig `toml:"telegram"`
	OpenAI   OpenAIConfig   `toml:"openai"`
	Postgres PostgresConfig `toml:"postgres"`
	Turn     TurnConfig     `toml:"turn"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token" validate:"required"`
}

type OpenAIConfig struct {
	APIKey      string `toml:"api_key" validate:"required"`
	AssistantID string `toml:"assistant_id" validate:"required"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// TurnConfig holds every tunable of the per-turn pipeline. All values are
// supplied externally; nothing here is derived at runtime.
type TurnConfig struct {
	ReplyDelaySec      int `toml:"reply_delay_seconds" validate:"min=0"`
	AckCooldownSec     int `toml:"ack_cooldown_seconds" validate:"min=0"`
	RunTimeoutSec      int `toml:"run_timeout_seconds" validate:"min=1"`
	PollIntervalMs     int `toml:"poll_interval_ms" validate:"min=1"`
	IdleWaitTimeoutSec int `toml:"idle_wait_timeout_seconds" validate:"min=1"`
	InsertMaxAttempts  int `toml:"insert_max_attempts" validate:"min=1"`
	LockTTLSec         int `toml:"lock_ttl_seconds" validate:"min=1"`
	LockAcquireSec     int `toml:"lock_acquire_timeout_seconds" validate:"min=1"`
	LockPollMs         int `toml:"lock_poll_interval_ms" validate:"min=1"`
	TypingIntervalSec  int `toml:"typing_interval_seconds" validate:"min=1,max=4"`
	FirstChunkLimit    int `toml:"first_chunk_limit" validate:"min=1"`
	SecondChunkLimit   int `toml:"second_chunk_limit" validate:"min=1"`
	HardChunkLimit     int `toml:"hard_chunk_limit" validate:"min=1"`
}

func (c TurnConfig) ReplyDelay() time.Duration  { return time.Duration(c.ReplyDelaySec) * time.Second }
func (c TurnConfig) AckCooldown() time.Duration { return time.Duration(c.AckCooldownSec) * time.Second }
func (c TurnConfig) RunTimeout() time.Duration  { return time.Duration(c.RunTimeoutSec) * time.Second }
func (c TurnConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
func (c TurnConfig) IdleWaitTimeout() time.Duration {
	return time.Duration(c.IdleWaitTimeoutSec) * time.Second
}
func (c TurnConfig) LockTTL() time.Duration { return time.Duration(c.LockTTLSec) * time.Second }
func (c TurnConfig) LockAcquireTimeout() time.Duration {
	return time.Duration(c.LockAcquireSec) * time.Second
}
func (c TurnConfig) LockPollInterval() time.Duration {
	return time.Duration(c.LockPollMs) * time.Millisecond
}
func (c TurnConfig) TypingInterval() time.Duration {
	return time.Duration(c.TypingIntervalSec) * time.Second
}

// DSN renders a pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL renders the connection string in URL form with the given scheme, as
// the migration tooling expects.
func (c PostgresConfig) URL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// Load reads the config file at path (DefaultConfigPath when empty). A
// missing file yields the defaults; credential validation happens in
// Validate, not here, so tests can build partial configs.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Default returns the configuration with every default applied and no
// credentials set.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Turn: TurnConfig{
			ReplyDelaySec:      DefaultReplyDelaySec,
			AckCooldownSec:     DefaultAckCooldownSec,
			RunTimeoutSec:      DefaultRunTimeoutSec,
			PollIntervalMs:     DefaultPollIntervalMs,
			IdleWaitTimeoutSec: DefaultIdleWaitTimeoutSec,
			InsertMaxAttempts:  DefaultInsertMaxAttempts,
			LockTTLSec:         DefaultLockTTLSec,
			LockAcquireSec:     DefaultLockAcquireSec,
			LockPollMs:         DefaultLockPollMs,
			TypingIntervalSec:  DefaultTypingIntervalSec,
			FirstChunkLimit:    DefaultFirstChunkLimit,
			SecondChunkLimit:   DefaultSecondChunkLimit,
			HardChunkLimit:     DefaultHardChunkLimit,
		},
	}
}

// Validate checks required credentials and numeric bounds.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
