package conn

import (
	"fmt"
	"net/url"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// Config defines connection settings for PostgreSQL.
type Config struct {
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	User     string            `json:"user"`
	Password string            `json:"password"`
	Database string            `json:"database"`
	SSLMode  string            `json:"sslMode"`
	Params   map[string]string `json:"params"`

	Gorm *gorm.Config `json:"-"`
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	cfg Config
	db  *gorm.DB
}

// New creates a PostgreSQL client from the provided config.
func New(cfg Config) (*Client, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), cfg.gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Client{cfg: cfg, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (cfg Config) gormConfig() *gorm.Config {
	if cfg.Gorm != nil {
		return cfg.Gorm
	}
	return &gorm.Config{}
}

// DSN builds the postgres connection string from the config.
func (cfg Config) DSN() string {
	host := cfg.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	if cfg.Database != "" {
		u.Path = "/" + cfg.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range cfg.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	return u.String()
}
