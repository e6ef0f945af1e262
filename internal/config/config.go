package config

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smallbiznis/plantwatch/internal/secrets"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	Router     RouterConfig
	Supervisor SupervisorConfig
	Database   DatabaseConfig
	Influx     InfluxConfig
	Dynamo     DynamoConfig

	BusURL        string
	RedisAddr     string
	RedisPassword string
}

type RouterConfig struct {
	UDPAddr        string
	SupervisorAddr string
	BatchSize      int
	QueueSize      int
	MaxWait        time.Duration
	MaxAttempts    int
	AttemptTimeout time.Duration
	AllowedDevices []string
	PolicyFile     string
	MetricsAddr    string
}

type SupervisorConfig struct {
	BindAddr         string
	PublishQueueSize int
	PublishTimeout   time.Duration
	LedgerStaleAfter time.Duration
	SinkTimeout      time.Duration
}

type DatabaseConfig struct {
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
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

type InfluxConfig struct {
	URL    string
	Org    string
	Token  string
	Bucket string
}

// Enabled reports whether enough is configured to reach InfluxDB.
func (c InfluxConfig) Enabled() bool {
	return c.URL != "" && c.Token != "" && c.Bucket != ""
}

type DynamoConfig struct {
	Table    string
	Region   string
	Endpoint string
}

func (c DynamoConfig) Enabled() bool {
	return c.Table != ""
}

// Load loads configuration from the environment, an optional .env file and an
// optional config file named by CONFIG_FILE. Secrets go through the resolver
// chain: Bitwarden first when BWS_ACCESS_TOKEN is set, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if file := strings.TrimSpace(os.Getenv("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	resolver := secrets.NewChain(zap.L(),
		secrets.NewBitwarden(secrets.BitwardenConfig{
			APIURL:      v.GetString("bws_api_url"),
			AccessToken: v.GetString("bws_access_token"),
		}, &http.Client{Timeout: 5 * time.Second}),
		secrets.Env{},
		fileSource{v: v},
	)

	return build(v, resolver), nil
}

func build(v *viper.Viper, resolver *secrets.Chain) Config {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	busURL := resolver.ResolveDefault(ctx, "BUS_URL", "")
	if busURL == "" {
		busURL = resolver.ResolveDefault(ctx, "AMQP_URL", "")
	}

	return Config{
		AppName:      v.GetString("app_service"),
		AppVersion:   v.GetString("app_version"),
		Environment:  v.GetString("environment"),
		OTLPEndpoint: v.GetString("otlp_endpoint"),
		Router: RouterConfig{
			UDPAddr:        v.GetString("router_udp_addr"),
			SupervisorAddr: v.GetString("supervisor_addr"),
			BatchSize:      v.GetInt("router_batch_size"),
			QueueSize:      v.GetInt("router_queue_size"),
			MaxWait:        time.Duration(v.GetInt("router_max_wait_ms")) * time.Millisecond,
			MaxAttempts:    v.GetInt("router_max_attempts"),
			AttemptTimeout: time.Duration(v.GetInt("router_attempt_timeout_ms")) * time.Millisecond,
			AllowedDevices: parseList(v.GetString("router_allowed_devices")),
			PolicyFile:     strings.TrimSpace(v.GetString("device_policy_file")),
			MetricsAddr:    strings.TrimSpace(v.GetString("router_metrics_addr")),
		},
		Supervisor: SupervisorConfig{
			BindAddr:         v.GetString("supervisor_bind_addr"),
			PublishQueueSize: v.GetInt("publish_queue_size"),
			PublishTimeout:   time.Duration(v.GetInt("publish_timeout_ms")) * time.Millisecond,
			LedgerStaleAfter: time.Duration(v.GetInt("ledger_stale_after_sec")) * time.Second,
			SinkTimeout:      time.Duration(v.GetInt("sink_timeout_ms")) * time.Millisecond,
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(v.GetString("database_type")),
			URL:             resolver.ResolveDefault(ctx, "DATABASE_URL", ""),
			Host:            v.GetString("database_host"),
			Port:            v.GetString("database_port"),
			Name:            v.GetString("database_name"),
			User:            v.GetString("database_user"),
			Password:        resolver.ResolveDefault(ctx, "DATABASE_PASSWORD", ""),
			SSLMode:         v.GetString("database_sslmode"),
			MaxIdleConn:     v.GetInt("database_max_idle_conn"),
			MaxOpenConn:     v.GetInt("database_max_open_conn"),
			ConnMaxLifetime: v.GetInt("database_conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database_conn_max_idle_time"),
		},
		Influx: InfluxConfig{
			URL:    strings.TrimSpace(v.GetString("influxdb_url")),
			Org:    strings.TrimSpace(v.GetString("influxdb_org")),
			Token:  resolver.ResolveDefault(ctx, "INFLUXDB_TOKEN", ""),
			Bucket: strings.TrimSpace(v.GetString("influxdb_bucket")),
		},
		Dynamo: DynamoConfig{
			Table:    strings.TrimSpace(v.GetString("dynamodb_telemetry_table")),
			Region:   strings.TrimSpace(v.GetString("aws_region")),
			Endpoint: strings.TrimSpace(v.GetString("dynamodb_endpoint")),
		},
		BusURL:        strings.TrimSpace(busURL),
		RedisAddr:     strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword: resolver.ResolveDefault(ctx, "REDIS_PASSWORD", ""),
	}
}

// fileSource serves keys from the config file after vault and environment.
type fileSource struct {
	v *viper.Viper
}

func (fileSource) Name() string { return "config_file" }

func (s fileSource) Lookup(_ context.Context, key string) (string, error) {
	value := strings.TrimSpace(s.v.GetString(strings.ToLower(key)))
	if value == "" {
		return "", secrets.ErrNotFound
	}
	return value, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_service", "plantwatch")
	v.SetDefault("app_version", "0.1.0")
	v.SetDefault("environment", "development")
	v.SetDefault("otlp_endpoint", "localhost:4317")
	v.SetDefault("bws_api_url", secrets.DefaultBitwardenAPIURL)

	v.SetDefault("router_udp_addr", "0.0.0.0:7000")
	v.SetDefault("supervisor_addr", "http://127.0.0.1:8080")
	v.SetDefault("router_batch_size", 64)
	v.SetDefault("router_queue_size", 1024)
	v.SetDefault("router_max_wait_ms", 100)
	v.SetDefault("router_max_attempts", 5)
	v.SetDefault("router_attempt_timeout_ms", 2000)
	v.SetDefault("router_metrics_addr", ":9100")

	v.SetDefault("supervisor_bind_addr", ":8080")
	v.SetDefault("publish_queue_size", 256)
	v.SetDefault("publish_timeout_ms", 2000)
	v.SetDefault("ledger_stale_after_sec", 300)
	v.SetDefault("sink_timeout_ms", 3000)

	v.SetDefault("database_type", "sqlite")
	v.SetDefault("database_host", "localhost")
	v.SetDefault("database_port", "5432")
	v.SetDefault("database_name", "plantwatch")
	v.SetDefault("database_user", "postgres")
	v.SetDefault("database_sslmode", "disable")
	v.SetDefault("database_max_idle_conn", 5)
	v.SetDefault("database_max_open_conn", 20)
	v.SetDefault("database_conn_max_lifetime", 300)
	v.SetDefault("database_conn_max_idle_time", 60)
	v.SetDefault("influxdb_org", "plantwatch")
	v.SetDefault("influxdb_bucket", "telemetry")
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
