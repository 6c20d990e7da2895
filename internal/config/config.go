package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	App        App        `yaml:"app"`
	Database   Database   `yaml:"database"`
	Migrations Migrations `yaml:"migrations"`
	Assignment Assignment `yaml:"assignment"`
	Auth       Auth       `yaml:"auth"`
	Mail       Mail       `yaml:"mail"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
}

type App struct {
	Port            string        `yaml:"port" env:"APP_PORT" env-default:"8080"`
	LogLevel        string        `yaml:"log_level" env:"APP_LOG_LEVEL" env-default:"debug"`
	GinMode         string        `yaml:"gin_mode" env:"GIN_MODE" env-default:"release"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"APP_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

type Database struct {
	Driver          string        `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	Host            string        `yaml:"host" env:"POSTGRES_HOST"`
	Port            string        `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User            string        `yaml:"user" env:"POSTGRES_USER"`
	Password        string        `yaml:"password" env:"POSTGRES_PASSWORD"`
	DBName          string        `yaml:"dbname" env:"POSTGRES_DB"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" env-default:"30m"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE" env-default:"disable"`
}

func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=%s",
		d.Host, d.Port, d.User, d.DBName, d.Password, d.SSLMode,
	)
}

type Migrations struct {
	Dir string `yaml:"dir" env:"MIGRATIONS_DIR" env-default:"migrations"`
}

type Assignment struct {
	BusyPolicy string `yaml:"busy_policy" env:"ASSIGN_BUSY_POLICY" env-default:"share"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"JWT_ISSUER"`
}

type Mail struct {
	Host          string `yaml:"host" env:"SMTP_HOST"`
	Port          int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User          string `yaml:"user" env:"SMTP_USER"`
	Password      string `yaml:"password" env:"SMTP_PASS"`
	From          string `yaml:"from" env:"SMTP_FROM"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify" env:"SMTP_SKIP_TLS_VERIFY"`
}

// Enabled reports whether enough is configured to talk to an SMTP server.
func (m Mail) Enabled() bool {
	return m.Host != "" && m.From != ""
}

type Dispatcher struct {
	Workers      int           `yaml:"workers" env:"DISPATCH_WORKERS" env-default:"4"`
	PollInterval time.Duration `yaml:"poll_interval" env:"DISPATCH_POLL_INTERVAL" env-default:"5s"`
	BatchSize    int           `yaml:"batch_size" env:"DISPATCH_BATCH_SIZE" env-default:"100"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"DISPATCH_RETRY_BACKOFF" env-default:"30s"`
}

func MustLoad() *Config {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}

	return cfg
}

// Load reads the YAML file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, err
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		log.Printf("failed to read env overrides: %v", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Assignment.BusyPolicy {
	case "share", "exclusive":
	default:
		return fmt.Errorf("unknown assignment busy_policy %q", c.Assignment.BusyPolicy)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	return nil
}
