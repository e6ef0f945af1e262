package db

import (
	"time"

	"github.com/smallbiznis/plantwatch/internal/config"
)

type Config struct {
	Type            string
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func FromAppConfig(cfg config.Config) Config {
	d := cfg.Database
	return Config{
		Type:            d.Type,
		URL:             d.URL,
		Host:            d.Host,
		Port:            d.Port,
		Name:            d.Name,
		User:            d.User,
		Password:        d.Password,
		SSLMode:         d.SSLMode,
		MaxIdleConn:     d.MaxIdleConn,
		MaxOpenConn:     d.MaxOpenConn,
		ConnMaxLifetime: time.Duration(d.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(d.ConnMaxIdleTime) * time.Second,
	}
}
