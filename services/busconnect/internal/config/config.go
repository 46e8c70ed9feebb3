package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"busconnect/internal/util"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	DefaultPort         = "5000"
	DefaultMaxBodyBytes = 8 << 20
	minJWTSecretBytes   = 32
)

// ObjectStoreConfig describes the optional bucket used for product images.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
	PublicURL string `yaml:"publicURL"`
}

// Enabled reports whether an object store was configured.
func (c ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string            `yaml:"port"`
	Env                      string            `yaml:"env"`
	LogLevel                 string            `yaml:"logLevel"`
	DatabaseDriver           string            `yaml:"databaseDriver"`
	DatabaseURL              string            `yaml:"databaseURL"`
	JWTSecret                string            `yaml:"jwtSecret"`
	SessionTTL               string            `yaml:"sessionTTL"`
	CORSAllowedOrigins       []string          `yaml:"corsAllowedOrigins"`
	StaticDir                string            `yaml:"staticDir"`
	RedisAddr                string            `yaml:"redisAddr"`
	RedisPassword            string            `yaml:"redisPassword"`
	TrustedProxyCIDRs        []string          `yaml:"trustedProxyCIDRs"`
	LoginRateLimitPerMinute  int               `yaml:"loginRateLimitPerMinute"`
	SignupRateLimitPerMinute int               `yaml:"signupRateLimitPerMinute"`
	MaxBodyBytes             int64             `yaml:"maxBodyBytes"`
	EnableInitEndpoint       *bool             `yaml:"enableInitEndpoint"`
	ObjectStore              ObjectStoreConfig `yaml:"objectStore"`

	// GeneratedJWTSecret is set when a development secret was generated at load time.
	GeneratedJWTSecret bool `yaml:"-"`
}

// Load reads config from path (defaults to config.yaml, or BUSCONNECT_CONFIG).
// A missing default file is not an error; the environment alone can configure the service.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if !explicit {
		path = os.Getenv("BUSCONNECT_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	if cfg.JWTSecret == "" {
		secret, err := generateSecret()
		if err != nil {
			return cfg, fmt.Errorf("generate development jwt secret: %w", err)
		}
		cfg.JWTSecret = secret
		cfg.GeneratedJWTSecret = true
	}
	return cfg, nil
}

// Override with environment variables
func applyEnv(cfg *FileConfig) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &cfg.Port)
	setString("BUSCONNECT_ENV", &cfg.Env)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("DATABASE_DRIVER", &cfg.DatabaseDriver)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("SESSION_TTL", &cfg.SessionTTL)
	setString("STATIC_DIR", &cfg.StaticDir)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("OBJECT_STORE_ENDPOINT", &cfg.ObjectStore.Endpoint)
	setString("OBJECT_STORE_ACCESS_KEY", &cfg.ObjectStore.AccessKey)
	setString("OBJECT_STORE_SECRET_KEY", &cfg.ObjectStore.SecretKey)
	setString("OBJECT_STORE_BUCKET", &cfg.ObjectStore.Bucket)
	setString("OBJECT_STORE_PUBLIC_URL", &cfg.ObjectStore.PublicURL)

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: LOGIN_RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.LoginRateLimitPerMinute = n
	}
	if v := os.Getenv("SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SIGNUP_RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.SignupRateLimitPerMinute = n
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: MAX_BODY_BYTES: %w", err)
		}
		cfg.MaxBodyBytes = n
	}
	if v := os.Getenv("ENABLE_INIT_ENDPOINT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: ENABLE_INIT_ENDPOINT: %w", err)
		}
		cfg.EnableInitEndpoint = &b
	}
	if v := os.Getenv("OBJECT_STORE_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: OBJECT_STORE_USE_SSL: %w", err)
		}
		cfg.ObjectStore.UseSSL = b
	}
	return nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env == "" {
		cfg.Env = EnvDevelopment
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "postgres"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ObjectStore.Bucket == "" {
		cfg.ObjectStore.Bucket = "busconnect"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set PORT)")
	}
	if cfg.Env != EnvProduction && cfg.Env != EnvDevelopment {
		return fmt.Errorf("config: env must be %q or %q", EnvProduction, EnvDevelopment)
	}
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		return fmt.Errorf("config: unsupported databaseDriver %q (postgres or sqlite)", cfg.DatabaseDriver)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if cfg.IsProduction() && cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required in production (set JWT_SECRET)")
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < minJWTSecretBytes {
		return fmt.Errorf("config: jwtSecret must be at least %d bytes", minJWTSecretBytes)
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return err
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.SignupRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxBodyBytes < 0 {
		return errors.New("config: maxBodyBytes must be >= 0")
	}
	if cfg.ObjectStore.Enabled() && (cfg.ObjectStore.AccessKey == "" || cfg.ObjectStore.SecretKey == "") {
		return errors.New("config: objectStore requires accessKey and secretKey")
	}
	if _, err := cfg.TrustedProxies(); err != nil {
		return err
	}
	return nil
}

// TrustedProxies parses trustedProxyCIDRs. Nil means forwarded headers are ignored.
func (c FileConfig) TrustedProxies() (*util.TrustedProxies, error) {
	proxies, err := util.NewTrustedProxies(c.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("config: trustedProxyCIDRs: %w", err)
	}
	return proxies, nil
}

// IsProduction reports whether the service runs in production mode.
func (c FileConfig) IsProduction() bool {
	return c.Env == EnvProduction
}

// InitEndpointEnabled reports whether POST /api/init is served.
// Unless set explicitly it is enabled outside production only.
func (c FileConfig) InitEndpointEnabled() bool {
	if c.EnableInitEndpoint != nil {
		return *c.EnableInitEndpoint
	}
	return !c.IsProduction()
}

// Addr returns the listen address.
func (c FileConfig) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// String renders the config with secrets masked.
func (c FileConfig) String() string {
	return fmt.Sprintf(
		"env=%s port=%s driver=%s database=%s jwtSecret=%s redis=%s objectStore=%s static=%q cors=%v",
		c.Env, c.Port, c.DatabaseDriver, maskDSN(c.DatabaseURL), mask(c.JWTSecret),
		c.RedisAddr, c.ObjectStore.Endpoint, c.StaticDir, c.CORSAllowedOrigins,
	)
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("invalid sessionTTL duration: must be positive")
	}
	return dur, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func generateSecret() (string, error) {
	buf := make([]byte, minJWTSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// maskDSN hides the password of a URL-style DSN.
func maskDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, hasPassword := strings.Cut(creds, ":")
	if !hasPassword {
		return dsn
	}
	return scheme + "://" + user + ":***@" + host
}
