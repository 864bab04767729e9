package rowinserter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// IPType selects which address of the instance the connector dials.
type IPType int

const (
	IPPublic IPType = iota
	IPPrivate
)

func (t IPType) String() string {
	if t == IPPrivate {
		return "PRIVATE"
	}
	return "PUBLIC"
}

// AuthMode selects how connections authenticate to the database.
type AuthMode int

const (
	AuthPassword AuthMode = iota
	AuthIAM
)

func (m AuthMode) String() string {
	if m == AuthIAM {
		return "IAM"
	}
	return "PASSWORD"
}

// Engine is the database flavour behind the Cloud SQL instance.
type Engine string

const (
	EngineMySQL    Engine = "mysql"
	EnginePostgres Engine = "postgres"
)

// PoolConfig holds the pool limits and connector policy.
type PoolConfig struct {
	Engine            Engine
	MaxConnections    int
	MaxOverflow       int
	PoolTimeout       time.Duration
	ConnectionRecycle time.Duration
	IPType            IPType
	AuthMode          AuthMode
	// IAMUser is the database principal used when AuthMode is AuthIAM.
	IAMUser string
}

// MaxOpen is the hard cap on concurrently open physical connections.
func (c PoolConfig) MaxOpen() int { return c.MaxConnections + c.MaxOverflow }

// Config is the process configuration, read from the environment.
type Config struct {
	SecretName    string
	SecretBackend string
	GoogleProject string

	AWSRegion             string
	AWSSecretsEndpoint    string
	AWSSecretsAccessKeyID string
	AWSSecretsSecretKey   string

	Pool PoolConfig

	Port              int
	InitTimeout       time.Duration
	EagerInit         bool
	FailOnInsertError bool
	LogLevel          string
}

// LoadConfig reads the environment. A missing SECRET_NAME is not an error
// here: initialization fails per request until the secret resolves.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MAX_CONNECTIONS", 5)
	v.SetDefault("POOL_MAX_OVERFLOW", 0)
	v.SetDefault("POOL_TIMEOUT", 30)
	v.SetDefault("POOL_RECYCLE", 1800)
	v.SetDefault("INIT_TIMEOUT", 60)
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_ENGINE", string(EngineMySQL))
	v.SetDefault("SECRET_BACKEND", "gcp")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("EAGER_INIT", false)
	v.SetDefault("FAIL_ON_INSERT_ERROR", false)

	cfg := Config{
		SecretName:            strings.TrimSpace(v.GetString("SECRET_NAME")),
		SecretBackend:         strings.ToLower(v.GetString("SECRET_BACKEND")),
		GoogleProject:         v.GetString("GOOGLE_CLOUD_PROJECT"),
		AWSRegion:             v.GetString("AWS_REGION"),
		AWSSecretsEndpoint:    v.GetString("AWS_SECRETS_ENDPOINT"),
		AWSSecretsAccessKeyID: v.GetString("AWS_SECRETS_ACCESS_KEY_ID"),
		AWSSecretsSecretKey:   v.GetString("AWS_SECRETS_SECRET_ACCESS_KEY"),
		LogLevel:              v.GetString("LOG_LEVEL"),
	}

	var maxConns, overflow, poolTimeout, recycle, initTimeout int
	ints := map[string]*int{
		"MAX_CONNECTIONS":   &maxConns,
		"POOL_MAX_OVERFLOW": &overflow,
		"POOL_TIMEOUT":      &poolTimeout,
		"POOL_RECYCLE":      &recycle,
		"INIT_TIMEOUT":      &initTimeout,
		"PORT":              &cfg.Port,
	}
	for key, dst := range ints {
		// Decimal only: cast would read "010" as octal.
		n, err := strconv.Atoi(strings.TrimSpace(cast.ToString(v.Get(key))))
		if err != nil {
			return Config{}, fmt.Errorf("%s: not an integer: %w", key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"EAGER_INIT":           &cfg.EagerInit,
		"FAIL_ON_INSERT_ERROR": &cfg.FailOnInsertError,
	}
	for key, dst := range bools {
		b, err := cast.ToBoolE(v.Get(key))
		if err != nil {
			return Config{}, fmt.Errorf("%s: not a boolean: %w", key, err)
		}
		*dst = b
	}

	cfg.Pool = PoolConfig{
		Engine:            Engine(strings.ToLower(v.GetString("DB_ENGINE"))),
		MaxConnections:    maxConns,
		MaxOverflow:       overflow,
		PoolTimeout:       time.Duration(poolTimeout) * time.Second,
		ConnectionRecycle: time.Duration(recycle) * time.Second,
	}
	cfg.InitTimeout = time.Duration(initTimeout) * time.Second

	if v.IsSet("PRIVATE_IP") {
		cfg.Pool.IPType = IPPrivate
	}
	if iamUser := v.GetString("DB_IAM_USER"); iamUser != "" {
		cfg.Pool.AuthMode = AuthIAM
		cfg.Pool.IAMUser = iamUser
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Pool.MaxConnections <= 0:
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", c.Pool.MaxConnections)
	case c.Pool.MaxOverflow < 0:
		return fmt.Errorf("POOL_MAX_OVERFLOW must not be negative, got %d", c.Pool.MaxOverflow)
	case c.Pool.PoolTimeout <= 0:
		return fmt.Errorf("POOL_TIMEOUT must be positive")
	case c.Pool.ConnectionRecycle <= 0:
		return fmt.Errorf("POOL_RECYCLE must be positive")
	case c.InitTimeout <= 0:
		return fmt.Errorf("INIT_TIMEOUT must be positive")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	switch c.Pool.Engine {
	case EngineMySQL, EnginePostgres:
	default:
		return fmt.Errorf("DB_ENGINE must be mysql or postgres, got %q", c.Pool.Engine)
	}
	switch c.SecretBackend {
	case "gcp", "aws":
	default:
		return fmt.Errorf("SECRET_BACKEND must be gcp or aws, got %q", c.SecretBackend)
	}
	return nil
}
