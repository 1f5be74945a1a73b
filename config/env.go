package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides replaces settings with the XMLRPC_* variables that are
// set. Values that do not parse are ignored.
func ApplyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Listen, "XMLRPC_LISTEN")
	setString(&cfg.Server.AdvertiseAddr, "XMLRPC_ADVERTISE_ADDR")
	setString(&cfg.Server.Path, "XMLRPC_PATH")
	setString(&cfg.Server.AdminListen, "XMLRPC_ADMIN_LISTEN")
	setString(&cfg.Server.AdminToken, "XMLRPC_ADMIN_TOKEN")
	setString(&cfg.Server.RootNamespace, "XMLRPC_ROOT_NAMESPACE")
	setString(&cfg.Server.Scheme, "XMLRPC_SCHEME")
	setString(&cfg.Client.Scheme, "XMLRPC_SCHEME")
	cfg.Server.RateLimit = envFloatWithFallback("XMLRPC_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.RateBurst = envIntWithFallback("XMLRPC_RATE_BURST", cfg.Server.RateBurst)
	cfg.Server.CallTimeout = envDurationWithFallback("XMLRPC_CALL_TIMEOUT", cfg.Server.CallTimeout)

	setString(&cfg.Client.Server, "XMLRPC_SERVER")
	setString(&cfg.Client.PublicKey, "XMLRPC_PUBLIC_KEY")
	setString(&cfg.Client.SecretKey, "XMLRPC_SECRET_KEY")
	setString(&cfg.Client.CallbackURL, "XMLRPC_CALLBACK_URL")
	setString(&cfg.Client.Discover, "XMLRPC_DISCOVER")
	setString(&cfg.Client.Balancer, "XMLRPC_BALANCER")
	cfg.Client.Timeout = envDurationWithFallback("XMLRPC_TIMEOUT", cfg.Client.Timeout)

	if endpoints := envCSV("XMLRPC_ETCD_ENDPOINTS"); endpoints != nil {
		cfg.Etcd.Endpoints = endpoints
	}
	cfg.Etcd.Register = envBoolWithFallback("XMLRPC_ETCD_REGISTER", cfg.Etcd.Register)

	setString(&cfg.Keys.Backend, "XMLRPC_KEYS_BACKEND")
	setString(&cfg.Keys.Path, "XMLRPC_KEYS_PATH")
	setString(&cfg.Keys.Prefix, "XMLRPC_KEYS_PREFIX")

	setString(&cfg.Log.Level, "XMLRPC_LOG_LEVEL")
	cfg.Log.Development = envBoolWithFallback("XMLRPC_LOG_DEVELOPMENT", cfg.Log.Development)
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := envString(key); v != "" {
		*dst = v
	}
}

func envCSV(key string) []string {
	raw := envString(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBoolWithFallback(key string, fallback bool) bool {
	switch strings.ToLower(envString(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envIntWithFallback(key string, fallback int) int {
	parsed, err := strconv.Atoi(envString(key))
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloatWithFallback(key string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(envString(key), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDurationWithFallback(key string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(envString(key))
	if err != nil {
		return fallback
	}
	return parsed
}
