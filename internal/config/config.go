package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	TelegramToken string `toml:"telegram-token"`

	DBDriver   string `toml:"db-driver"` // postgres, sqlite or memory
	DBPath     string `toml:"db-path"`
	DBHost     string `toml:"db-host"`
	DBPort     int    `toml:"db-port"`
	DBUser     string `toml:"db-user"`
	DBPassword string `toml:"db-password"`
	DBName     string `toml:"db-name"`

	HTTPAddr  string `toml:"http-addr"`
	JWTSecret string `toml:"jwt-secret"`

	Timezone string `toml:"timezone"`

	ReminderInterval      Duration `toml:"reminder-interval"`
	ReminderInitialDelay  Duration `toml:"reminder-initial-delay"`
	ReminderOffsetMinutes int      `toml:"reminder-offset-minutes"`

	// SessionIdleTimeout drops abandoned conversations; 0 keeps them forever.
	SessionIdleTimeout Duration `toml:"session-idle-timeout"`

	Workers  int     `toml:"workers"`
	SendRate float64 `toml:"send-rate"` // outbound messages per second
}

// Duration lets TOML files use "60s" style values.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() *Config {
	return &Config{
		DBDriver:              "sqlite",
		DBPath:                "todo.db",
		DBPort:                5432,
		HTTPAddr:              ":8080",
		Timezone:              "Local",
		ReminderInterval:      Duration{60 * time.Second},
		ReminderInitialDelay:  Duration{10 * time.Second},
		ReminderOffsetMinutes: 30,
		Workers:               8,
		SendRate:              25,
	}
}

// Load builds the config from defaults, then the TOML file at path (if any),
// then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown key %q in %s", undecoded[0].String(), filepath.Base(path))
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.TelegramToken, "TG_TOKEN")
	setString(&cfg.DBDriver, "DB_DRIVER")
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.DBHost, "DB_HOST")
	setString(&cfg.DBUser, "DB_USER")
	setString(&cfg.DBPassword, "DB_PASSWORD")
	setString(&cfg.DBName, "DB_NAME")
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.Timezone, "TIMEZONE")

	// Парсим DB_PORT
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DB_PORT: %w", err)
		}
		cfg.DBPort = port
	}

	if err := setInt(&cfg.ReminderOffsetMinutes, "REMINDER_OFFSET_MINUTES"); err != nil {
		return err
	}
	if err := setInt(&cfg.Workers, "WORKERS"); err != nil {
		return err
	}
	if err := setDuration(&cfg.ReminderInterval, "REMINDER_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.ReminderInitialDelay, "REMINDER_INITIAL_DELAY"); err != nil {
		return err
	}
	if err := setDuration(&cfg.SessionIdleTimeout, "SESSION_IDLE_TIMEOUT"); err != nil {
		return err
	}

	if v := os.Getenv("SEND_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SEND_RATE: %w", err)
		}
		cfg.SendRate = rate
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	dst.Duration = d
	return nil
}

// Validate checks what `serve` needs to start.
func (c *Config) Validate() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, errors.New("TG_TOKEN is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.DBDriver {
	case "postgres", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver))
	}
	if c.ReminderInterval.Duration <= 0 {
		errs = append(errs, errors.New("reminder interval must be positive"))
	}
	if c.ReminderOffsetMinutes <= 0 {
		errs = append(errs, errors.New("reminder offset must be positive"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) ConnString() string {
	if c.DBDriver == "sqlite" {
		return c.DBPath
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName,
	)
}
