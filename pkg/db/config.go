package db

import (
	"time"

	"github.com/smallbiznis/insightdesk/internal/config"
)

type Config struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Type:            cfg.DBType,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}
}

func (c Config) lifetime() time.Duration {
	if c.ConnMaxLifetime <= 0 {
		return time.Hour
	}
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

func (c Config) idleTime() time.Duration {
	if c.ConnMaxIdleTime <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.ConnMaxIdleTime) * time.Second
}
