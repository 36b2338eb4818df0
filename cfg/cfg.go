package cfg

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

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
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port            string
	Environment     string
	LogLevel        string
	StoragePath     string
	FlushDelay      time.Duration
	SweepInterval   time.Duration
	IDMaxAttempts   int
	MaxPasteSize    int
	MaxTTL          time.Duration
	PreviewLength   int
	RecentLimit     int
	RateLimit       RateLimitCfg
	TrustedProxies  []string
	ContextTimeout  time.Duration
	ShutdownTimeout time.Duration
	MetricsUser     string
	MetricsPass     Secret
}

type RateLimitCfg struct {
	RPM              int
	Burst            int
	LimiterCacheSize int
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.StoragePath = getEnv("STORAGE_PATH", "pastes.json")
	var err error
	if c.FlushDelay, err = getDuration("FLUSH_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if c.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if c.IDMaxAttempts, err = getInt("ID_MAX_ATTEMPTS", 10); err != nil {
		return nil, err
	}
	if c.MaxPasteSize, err = getInt("MAX_PASTE_SIZE", 64*1024); err != nil {
		return nil, err
	}
	if c.MaxTTL, err = getDuration("MAX_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if c.PreviewLength, err = getInt("PREVIEW_LENGTH", 80); err != nil {
		return nil, err
	}
	if c.RecentLimit, err = getInt("RECENT_LIMIT", 50); err != nil {
		return nil, err
	}
	if c.RateLimit.RPM, err = getInt("RATE_LIMIT_RPM", 60); err != nil {
		return nil, err
	}
	if c.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", 10); err != nil {
		return nil, err
	}
	if c.RateLimit.LimiterCacheSize, err = getInt("LIMITER_CACHE_SIZE", 10000); err != nil {
		return nil, err
	}
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	if c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	return c, nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.StoragePath == "" {
		return errors.New("STORAGE_PATH is required")
	}
	if info, err := os.Stat(c.StoragePath); err == nil && info.IsDir() {
		return fmt.Errorf("STORAGE_PATH %s is a directory", c.StoragePath)
	}
	if _, err := filepath.Abs(c.StoragePath); err != nil {
		return fmt.Errorf("invalid STORAGE_PATH: %w", err)
	}
	if c.FlushDelay <= 0 {
		return errors.New("FLUSH_DELAY must be positive")
	}
	if c.FlushDelay > time.Minute {
		return errors.New("FLUSH_DELAY cannot exceed 1 minute")
	}
	if c.SweepInterval < time.Second {
		return errors.New("SWEEP_INTERVAL must be at least 1 second")
	}
	if c.IDMaxAttempts < 1 {
		return errors.New("ID_MAX_ATTEMPTS must be at least 1")
	}
	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.MaxTTL <= 0 {
		return errors.New("MAX_TTL must be positive")
	}
	if c.PreviewLength < 0 {
		return errors.New("PREVIEW_LENGTH cannot be negative")
	}
	if c.RecentLimit <= 0 {
		return errors.New("RECENT_LIMIT must be positive")
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be positive")
	}
	if c.RateLimit.LimiterCacheSize <= 0 {
		return errors.New("LIMITER_CACHE_SIZE must be positive")
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
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}

func (c *Cfg) Wipe() {
	c.MetricsPass.Wipe()
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
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
