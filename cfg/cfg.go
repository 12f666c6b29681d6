package cfg

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Bytes() []byte {
	return s.value
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

const minSigningKeyLen = 32

type Cfg struct {
	Host                 string
	Port                 string
	Environment          string
	LogLevel             string
	Version              string
	DatabasePath         string
	SigningKey           Secret
	SigningKeyFromKMS    bool
	SigningKeySecretName string
	SigningKeyCiphertext string
	MaxPasteBytes        int64
	MaxPasteAge          time.Duration
	SweepInterval        time.Duration
	WALCheckpoint        time.Duration
	RedisURL             string
	RedisTLS             bool
	RedisHostname        string
	RedisCACert          string
	RedisUsername        string
	RedisPassword        Secret
	RedisTimeout         time.Duration
	RateLimit            RateLimitCfg
	TrustedProxies       []string
	MetricsUser          string
	MetricsPass          Secret
	ContextTimeout       time.Duration
	ShutdownTimeout      time.Duration
	AllowedOrigins       []string
	DBMaxOpenConns       int
	DBMaxIdleConns       int
	DBQueryTimeout       time.Duration
}

type RateLimitCfg struct {
	RPM              int
	Burst            int
	CacheSize        int
	RotationInterval time.Duration
}

// LoadEnvFile merges a dotenv file into the process environment. Variables
// already set win. A missing file is not an error when optional is true.
func LoadEnvFile(path string, optional bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil && optional {
		return nil
	}
	return errors.Wrapf(godotenv.Load(path), "load %s", path)
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Host = getEnv("HOST", "localhost")
	c.Port = getEnv("PORT", "3030")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.Version = getEnv("VERSION", "unknown")
	c.DatabasePath = getEnv("DATABASE_PATH", "upaste.db")
	c.SigningKey = NewSecret(getEnv("SIGNING_KEY", ""))
	c.SigningKeyFromKMS = getEnv("SIGNING_KEY_FROM_KMS", "false") == "true"
	c.SigningKeySecretName = getEnv("SIGNING_KEY_SECRET_NAME", "UPASTE_SIGNING_KEY")
	c.SigningKeyCiphertext = getEnv("SIGNING_KEY_CIPHERTEXT", "")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisHostname = getEnv("REDIS_HOSTNAME", "")
	c.RedisCACert = getEnv("REDIS_TLS_CA_CERT", "")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})

	var err error
	if c.MaxPasteBytes, err = getInt64("MAX_PASTE_BYTES", 1000000); err != nil {
		return nil, err
	}
	maxAgeSecs, err := getInt64("MAX_PASTE_AGE_SECONDS", 2592000)
	if err != nil {
		return nil, err
	}
	c.MaxPasteAge = time.Duration(maxAgeSecs) * time.Second
	if c.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if c.WALCheckpoint, err = getDuration("WAL_CHECKPOINT_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if c.RateLimit.RPM, err = getInt("RATE_LIMIT_RPM", 120); err != nil {
		return nil, err
	}
	if c.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", 20); err != nil {
		return nil, err
	}
	if c.RateLimit.CacheSize, err = getInt("RATE_LIMIT_CACHE_SIZE", 10000); err != nil {
		return nil, err
	}
	if c.RateLimit.RotationInterval, err = getDuration("CLIENT_HASH_ROTATION_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if c.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 16); err != nil {
		return nil, err
	}
	if c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 4); err != nil {
		return nil, err
	}
	if c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cfg) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}
func (c *Cfg) IsProduction() bool {
	return c.Environment == "production"
}

// SigningKeyFromEnv reports whether the signing key is taken verbatim from
// SIGNING_KEY rather than resolved through the KMS at boot.
func (c *Cfg) SigningKeyFromEnv() bool {
	return !c.SigningKeyFromKMS && c.SigningKeyCiphertext == ""
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if port, err := strconv.Atoi(c.Port); err != nil || port <= 0 || port > 65535 {
		return errors.New("PORT must be a number between 1 and 65535")
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.SigningKeyFromEnv() {
		if len(c.SigningKey.Value()) == 0 {
			return errors.New("SIGNING_KEY is required unless SIGNING_KEY_FROM_KMS or SIGNING_KEY_CIPHERTEXT is set")
		}
		if len(c.SigningKey.Value()) < minSigningKeyLen {
			return fmt.Errorf("SIGNING_KEY must be at least %d bytes", minSigningKeyLen)
		}
	}
	if c.SigningKeyFromKMS && c.SigningKeySecretName == "" {
		return errors.New("SIGNING_KEY_SECRET_NAME is required when SIGNING_KEY_FROM_KMS=true")
	}
	if c.MaxPasteBytes <= 0 {
		return errors.New("MAX_PASTE_BYTES must be positive")
	}
	if c.MaxPasteBytes > 10*1024*1024 {
		return errors.New("MAX_PASTE_BYTES cannot exceed 10MB")
	}
	if c.MaxPasteAge < time.Hour {
		return errors.New("MAX_PASTE_AGE_SECONDS must be at least 3600")
	}
	if c.SweepInterval < 10*time.Second || c.SweepInterval > time.Hour {
		return errors.New("SWEEP_INTERVAL must be between 10s and 1h")
	}
	if c.WALCheckpoint < time.Second {
		return errors.New("WAL_CHECKPOINT_INTERVAL must be at least 1s")
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be positive")
	}
	if c.RateLimit.CacheSize <= 0 {
		return errors.New("RATE_LIMIT_CACHE_SIZE must be positive")
	}
	if c.DBMaxOpenConns <= 0 || c.DBMaxIdleConns < 0 {
		return errors.New("DB_MAX_OPEN_CONNS must be positive and DB_MAX_IDLE_CONNS non-negative")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else if net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
		}
	}
	if c.IsProduction() {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.SigningKey.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	var result []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
