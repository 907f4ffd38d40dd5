package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env       string `env:"ENV,        default=development"`
	LogLevel  string `env:"LOG_LEVEL,  default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=false"`

	Client  ClientConfig
	Store   StoreConfig
	Sandbox SandboxConfig
	Mongo   MongoConfig
	Redis   RedisConfig
}

// ClientConfig configures the session client's view of the auth service.
type ClientConfig struct {
	APIBaseURL  string        `env:"API_BASE_URL, default=http://localhost:8080"`
	APITimeout  time.Duration `env:"API_TIMEOUT,  default=10s"`
	RefreshSkew time.Duration `env:"REFRESH_SKEW, default=1m"`
}

// StoreConfig selects the credential store: memory, file, redis or mongo.
// An empty File resolves to the user config directory.
type StoreConfig struct {
	Driver    string `env:"STORE_DRIVER,    default=file"`
	File      string `env:"STORE_FILE"`
	Namespace string `env:"STORE_NAMESPACE, default=default"`
}

// SandboxConfig configures the development auth backend. Drivers are
// "memory" or, for accounts, "mongo" and, for tokens, "redis".
type SandboxConfig struct {
	Port           string        `env:"PORT,            default=8080"`
	JWTSecret      string        `env:"JWT_SECRET,      default=sandbox-secret"`
	AccessTTL      time.Duration `env:"ACCESS_TTL,      default=15m"`
	RefreshTTL     time.Duration `env:"REFRESH_TTL,     default=168h"`
	ResetTTL       time.Duration `env:"RESET_TTL,       default=30m"`
	AccountsDriver string        `env:"ACCOUNTS_DRIVER, default=memory"`
	TokensDriver   string        `env:"TOKENS_DRIVER,   default=memory"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI,      default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,       default=patient_portal"`
	AppName  string `env:"MONGO_APP_NAME, default=portal-session"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,     default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,       default=0"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load() *Config {
	cfg, err := LoadWith(context.Background(), envconfig.OsLookuper())
	if err != nil {
		panic(fmt.Sprintf("config: failed to load configuration: %v", err))
	}
	return cfg
}

// LoadWith reads configuration from the given lookuper and checks the
// driver selections.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "file", "redis", "mongo":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Sandbox.AccountsDriver {
	case "memory", "mongo":
	default:
		return fmt.Errorf("unknown ACCOUNTS_DRIVER %q", c.Sandbox.AccountsDriver)
	}
	switch c.Sandbox.TokensDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown TOKENS_DRIVER %q", c.Sandbox.TokensDriver)
	}
	if c.Client.APITimeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive")
	}
	return nil
}
