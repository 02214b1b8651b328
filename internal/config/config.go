package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string
	DBDSN    string

	SessionStore  string // memory|redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AMQPURL      string // empty disables the bus
	AMQPExchange string

	AuthSecret      string
	EnableLocalAuth bool
	AllowClaimRole  bool // trust the token role for subjects not in the directory
	AdminUser       string
	AdminPassHash   string // bcrypt

	// Attempt timing.
	SubmitGrace        time.Duration
	SubmitRetries      int
	SubmitRetryBackoff time.Duration
	SweepInterval      time.Duration
	SessionRetention   time.Duration

	// OutboxInterval is how often pending events are retried on the bus.
	OutboxInterval time.Duration

	EnableMetrics bool

	CORSOriginsOnline  []string
	CORSOriginsOffline []string
}

// fileConfig is the optional YAML overlay. Values found there become the
// defaults the environment can still override.
type fileConfig struct {
	Mode     string `yaml:"mode"`
	HTTPAddr string `yaml:"http_addr"`
	DB       struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"db"`
	Session struct {
		Store     string `yaml:"store"`
		Retention string `yaml:"retention"`
	} `yaml:"session"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	AMQP struct {
		URL           string `yaml:"url"`
		Exchange      string `yaml:"exchange"`
		RelayInterval string `yaml:"relay_interval"`
	} `yaml:"amqp"`
	Submit struct {
		Grace        string `yaml:"grace"`
		Retries      int    `yaml:"retries"`
		RetryBackoff string `yaml:"retry_backoff"`
		SweepEvery   string `yaml:"sweep_interval"`
	} `yaml:"submit"`
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE (if
// set), then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(path); err != nil {
			return Config{}, err
		}
	}
	return FromEnv(), nil
}

func applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	defaults := map[string]string{
		"MODE":                  fc.Mode,
		"HTTP_ADDR":             fc.HTTPAddr,
		"DB_DRIVER":             fc.DB.Driver,
		"DB_DSN":                fc.DB.DSN,
		"SESSION_STORE":         fc.Session.Store,
		"SESSION_RETENTION":     fc.Session.Retention,
		"REDIS_ADDR":            fc.Redis.Addr,
		"REDIS_PASSWORD":        fc.Redis.Password,
		"AMQP_URL":              fc.AMQP.URL,
		"AMQP_EXCHANGE":         fc.AMQP.Exchange,
		"OUTBOX_RELAY_INTERVAL": fc.AMQP.RelayInterval,
		"SUBMIT_GRACE":          fc.Submit.Grace,
		"SUBMIT_RETRY_BACKOFF":  fc.Submit.RetryBackoff,
		"SWEEP_INTERVAL":        fc.Submit.SweepEvery,
	}
	if fc.Redis.DB != 0 {
		defaults["REDIS_DB"] = strconv.Itoa(fc.Redis.DB)
	}
	if fc.Submit.Retries != 0 {
		defaults["SUBMIT_RETRIES"] = strconv.Itoa(fc.Submit.Retries)
	}
	for k, v := range defaults {
		if v == "" {
			continue
		}
		if _, set := os.LookupEnv(k); !set {
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	return Config{
		Mode:     mode,
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		SessionStore:  envOr("SESSION_STORE", "memory"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: envOr("AMQP_EXCHANGE", "exams"),

		AuthSecret:      envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		EnableLocalAuth: envBool("ENABLE_LOCAL_AUTH", mode == ModeOffline),
		AllowClaimRole:  envBool("AUTH_ALLOW_CLAIM_ROLE", false),
		AdminUser:       envOr("ADMIN_USER", "admin"),
		AdminPassHash:   envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),

		SubmitGrace:        envDuration("SUBMIT_GRACE", 2*time.Second),
		SubmitRetries:      envInt("SUBMIT_RETRIES", 3),
		SubmitRetryBackoff: envDuration("SUBMIT_RETRY_BACKOFF", 500*time.Millisecond),
		SweepInterval:      envDuration("SWEEP_INTERVAL", time.Second),
		SessionRetention:   envDuration("SESSION_RETENTION", time.Hour),
		OutboxInterval:     envDuration("OUTBOX_RELAY_INTERVAL", time.Second),

		EnableMetrics: envBool("ENABLE_METRICS", true),

		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://exams.mindengage.ai"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envInt(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

// envDuration accepts Go durations ("1500ms") or plain seconds ("2").
func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
