package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"security-gateway/middleware/security"
	"security-gateway/middleware/security/domain"
)

type config struct {
	listenAddr  string
	upstreamURL string
	corsOrigins []string

	redisURL     string
	storeTimeout time.Duration

	tiers map[domain.Tier]domain.TierConfig
	speed domain.SpeedConfig

	suspiciousRetention time.Duration
	authPrefixes        []string
	uploadPrefixes      []string
	trustXFF            bool
	clientKeyHeader     string
	maxBodyBytes        int64

	alertDBPath        string
	alertQueueSize     int
	alertRatePerClient float64
	alertBurst         int

	statsEnabled bool
	statsPrefix  string
	statsTTL     time.Duration

	concurrencyMax     int
	concurrencyTimeout time.Duration

	features security.Features

	logLevel  string
	logFormat string
}

// newViper prepara o viper com defaults e variáveis de ambiente.
// .env (se existir) é carregado antes; variáveis já definidas prevalecem.
func newViper(configFile string) (*viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	general := domain.DefaultTierConfig(domain.TierGeneral)
	auth := domain.DefaultTierConfig(domain.TierAuth)
	upload := domain.DefaultTierConfig(domain.TierUpload)
	speed := domain.DefaultSpeedConfig()

	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("UPSTREAM_URL", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("STORE_TIMEOUT", 50*time.Millisecond)

	v.SetDefault("RATE_GENERAL_WINDOW", general.Window)
	v.SetDefault("RATE_GENERAL_MAX", general.MaxRequests)
	v.SetDefault("RATE_AUTH_WINDOW", auth.Window)
	v.SetDefault("RATE_AUTH_MAX", auth.MaxRequests)
	v.SetDefault("RATE_AUTH_SKIP_SUCCESSFUL", auth.SkipSuccessful)
	v.SetDefault("RATE_AUTH_RESET_ON_SUCCESS", auth.ResetOnSuccess)
	v.SetDefault("RATE_UPLOAD_WINDOW", upload.Window)
	v.SetDefault("RATE_UPLOAD_MAX", upload.MaxRequests)

	v.SetDefault("SPEED_WINDOW", speed.Window)
	v.SetDefault("SPEED_DELAY_AFTER", speed.DelayAfter)
	v.SetDefault("SPEED_DELAY_STEP", speed.DelayStep)
	v.SetDefault("SPEED_MAX_DELAY", speed.MaxDelay)

	v.SetDefault("SUSPICIOUS_RETENTION", 24*time.Hour)
	v.SetDefault("AUTH_PATH_PREFIXES", strings.Join(security.DefaultAuthPrefixes, ","))
	v.SetDefault("UPLOAD_PATH_PREFIXES", strings.Join(security.DefaultUploadPrefixes, ","))
	v.SetDefault("TRUST_XFF", false)
	v.SetDefault("CLIENT_KEY_HEADER", "")
	v.SetDefault("MAX_BODY_BYTES", security.DefaultMaxBodyBytes)

	v.SetDefault("ALERT_DB_PATH", "")
	v.SetDefault("ALERT_QUEUE_SIZE", 1024)
	v.SetDefault("ALERT_RATE_PER_CLIENT", 5.0)
	v.SetDefault("ALERT_BURST", 10)

	v.SetDefault("STATS_ENABLED", true)
	v.SetDefault("STATS_PREFIX", "gw:stats")
	v.SetDefault("STATS_TTL", 24*time.Hour)

	v.SetDefault("CONCURRENCY_MAX", 100)
	v.SetDefault("CONCURRENCY_TIMEOUT", time.Duration(0))

	v.SetDefault("FEATURE_THREAT_DETECTION", true)
	v.SetDefault("FEATURE_SANITIZATION", true)
	v.SetDefault("FEATURE_RATE_LIMITING", true)
	v.SetDefault("FEATURE_SPEED_LIMITING", true)
	v.SetDefault("FEATURE_ALERTING", true)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func readConfig(v *viper.Viper) (config, error) {
	cfg := config{
		listenAddr:   v.GetString("LISTEN_ADDR"),
		upstreamURL:  strings.TrimSpace(v.GetString("UPSTREAM_URL")),
		corsOrigins:  splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		redisURL:     strings.TrimSpace(v.GetString("REDIS_URL")),
		storeTimeout: v.GetDuration("STORE_TIMEOUT"),
		tiers: map[domain.Tier]domain.TierConfig{
			domain.TierGeneral: {
				Window:      v.GetDuration("RATE_GENERAL_WINDOW"),
				MaxRequests: v.GetInt("RATE_GENERAL_MAX"),
			},
			domain.TierAuth: {
				Window:         v.GetDuration("RATE_AUTH_WINDOW"),
				MaxRequests:    v.GetInt("RATE_AUTH_MAX"),
				SkipSuccessful: v.GetBool("RATE_AUTH_SKIP_SUCCESSFUL"),
				ResetOnSuccess: v.GetBool("RATE_AUTH_RESET_ON_SUCCESS"),
			},
			domain.TierUpload: {
				Window:      v.GetDuration("RATE_UPLOAD_WINDOW"),
				MaxRequests: v.GetInt("RATE_UPLOAD_MAX"),
			},
		},
		speed: domain.SpeedConfig{
			Window:     v.GetDuration("SPEED_WINDOW"),
			DelayAfter: v.GetInt("SPEED_DELAY_AFTER"),
			DelayStep:  v.GetDuration("SPEED_DELAY_STEP"),
			MaxDelay:   v.GetDuration("SPEED_MAX_DELAY"),
		},
		suspiciousRetention: v.GetDuration("SUSPICIOUS_RETENTION"),
		authPrefixes:        splitList(v.GetString("AUTH_PATH_PREFIXES")),
		uploadPrefixes:      splitList(v.GetString("UPLOAD_PATH_PREFIXES")),
		trustXFF:            v.GetBool("TRUST_XFF"),
		clientKeyHeader:     strings.TrimSpace(v.GetString("CLIENT_KEY_HEADER")),
		maxBodyBytes:        v.GetInt64("MAX_BODY_BYTES"),
		alertDBPath:         strings.TrimSpace(v.GetString("ALERT_DB_PATH")),
		alertQueueSize:      v.GetInt("ALERT_QUEUE_SIZE"),
		alertRatePerClient:  v.GetFloat64("ALERT_RATE_PER_CLIENT"),
		alertBurst:          v.GetInt("ALERT_BURST"),
		statsEnabled:        v.GetBool("STATS_ENABLED"),
		statsPrefix:         v.GetString("STATS_PREFIX"),
		statsTTL:            v.GetDuration("STATS_TTL"),
		concurrencyMax:      v.GetInt("CONCURRENCY_MAX"),
		concurrencyTimeout:  v.GetDuration("CONCURRENCY_TIMEOUT"),
		features: security.Features{
			ThreatDetection: v.GetBool("FEATURE_THREAT_DETECTION"),
			Sanitization:    v.GetBool("FEATURE_SANITIZATION"),
			RateLimiting:    v.GetBool("FEATURE_RATE_LIMITING"),
			SpeedLimiting:   v.GetBool("FEATURE_SPEED_LIMITING"),
			Alerting:        v.GetBool("FEATURE_ALERTING"),
		},
		logLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
		logFormat: strings.ToLower(v.GetString("LOG_FORMAT")),
	}

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if u, err := url.Parse(cfg.upstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
		return config{}, fmt.Errorf("invalid UPSTREAM_URL %q", cfg.upstreamURL)
	}
	for _, tier := range domain.Tiers() {
		tc := cfg.tiers[tier]
		if tc.Window <= 0 {
			return config{}, fmt.Errorf("RATE_%s_WINDOW must be > 0", strings.ToUpper(string(tier)))
		}
		if tc.MaxRequests <= 0 {
			return config{}, fmt.Errorf("RATE_%s_MAX must be > 0", strings.ToUpper(string(tier)))
		}
	}
	switch {
	case cfg.speed.DelayAfter < 0:
		return config{}, errors.New("SPEED_DELAY_AFTER must be >= 0")
	case cfg.speed.DelayAfter == 0:
		// 0 no ambiente: atrasar desde a primeira requisição
		cfg.speed.DelayAfter = domain.DelayFromFirst
	}
	if cfg.speed.MaxDelay < cfg.speed.DelayStep {
		return config{}, errors.New("SPEED_MAX_DELAY must be >= SPEED_DELAY_STEP")
	}
	if cfg.suspiciousRetention <= 0 {
		return config{}, errors.New("SUSPICIOUS_RETENTION must be > 0")
	}
	if cfg.alertRatePerClient <= 0 {
		return config{}, errors.New("ALERT_RATE_PER_CLIENT must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

// splitList separa listas "a, b,,c" em []string{"a","b","c"}.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
