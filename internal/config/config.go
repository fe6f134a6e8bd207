package config // package config loads application configuration from .env and the environment

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Secrets are parsed once here and handed to the
// components that need them; nothing reads them from the environment later.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBDriver string // "mysql" or "memory"
	DBUser   string
	DBPass   string
	DBHost   string
	DBPort   string
	DBName   string

	JWTSecret     string // HS256 signing secret
	EncryptionKey []byte // 32-byte field cipher key, from 64 hex chars

	BcryptCost      int
	PendingTokenTTL time.Duration // lifetime of the post-password token
	SessionTokenTTL time.Duration // lifetime of the full session token
	TOTPIssuer      string
	TOTPLoginWindow uint // accepted time steps either side of now at verify-2FA
	CookieSecure    bool
	StatusCacheTTL  time.Duration

	LogLevel  string
	LogFormat string

	RabbitURL string // empty disables the durable queue fallback

	// Reverse proxies whose X-Forwarded-For is believed.  Empty means the
	// socket peer address is the client address.
	TrustedProxies []*net.IPNet
}

// Load reads an optional .env file, then the environment.  Missing or invalid
// required values cause the program to exit with a fatal log message.
func Load() Config {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()
	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// FromEnv builds a Config from the current environment without exiting.
func FromEnv() (Config, error) {
	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
		return v
	}

	env := envStr("APP_ENV", "")
	cfg := Config{
		Env:             must("APP_ENV"),
		Port:            must("APP_PORT"),
		DBDriver:        strings.ToLower(envStr("DB_DRIVER", "mysql")),
		JWTSecret:       must("JWT_SECRET"),
		BcryptCost:      envInt("BCRYPT_COST", 10),
		PendingTokenTTL: envDur("PENDING_TOKEN_TTL", 5*time.Minute),
		SessionTokenTTL: envDur("SESSION_TOKEN_TTL", 24*time.Hour),
		TOTPIssuer:      envStr("TOTP_ISSUER", "SecureHealth"),
		TOTPLoginWindow: uint(max(envInt("TOTP_LOGIN_WINDOW", 1), 0)),
		CookieSecure:    envBool("COOKIE_SECURE", env != "dev" && env != "test"),
		StatusCacheTTL:  envDur("STATUS_CACHE_TTL", 30*time.Second),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		LogFormat:       envStr("LOG_FORMAT", "json"),
		RabbitURL:       os.Getenv("RABBITMQ_URL"),
	}
	rawKey := must("ENCRYPTION_KEY")

	switch cfg.DBDriver {
	case "mysql":
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS") // empty allowed
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	case "memory":
	default:
		return Config{}, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}

	key, err := hex.DecodeString(strings.TrimSpace(rawKey))
	if err != nil || len(key) != 32 {
		return Config{}, errors.New("ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
	}
	cfg.EncryptionKey = key

	proxies, err := parseCIDRs(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return Config{}, err
	}
	cfg.TrustedProxies = proxies

	if cfg.BcryptCost < 10 {
		cfg.BcryptCost = 10
	}
	if cfg.PendingTokenTTL <= 0 || cfg.SessionTokenTTL <= 0 {
		return Config{}, errors.New("token TTLs must be positive")
	}
	return cfg, nil
}

// parseCIDRs reads a comma-separated list of CIDRs or bare IPs.
func parseCIDRs(raw string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			ip := net.ParseIP(part)
			if ip == nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q", part)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(part)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string { return ":" + c.Port }
