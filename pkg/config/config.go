// Package config loads this module's ambient configuration via Viper,
// grounded on jhoicas-Inventario-api/pkg/config's env-plus-optional-file
// loading pattern. Only cmd/xadessign and test setup construct a Config;
// internal/ and xades/ packages take explicit constructor arguments so
// the core library stays embeddable without a global config dependency.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration this module reads at process
// start.
type Config struct {
	App   AppConfig
	Hash  HashConfig
	C14N  C14NConfig
	TSA   TSAConfig
	Policy PolicyConfig
	Log   LogConfig
}

// AppConfig is general application configuration.
type AppConfig struct {
	Env string // development, production
}

// HashConfig selects the default digest algorithm for References and
// SigningCertificateV2 (spec.md §4.2: "SHA-256 by default").
type HashConfig struct {
	Algorithm string // sha1, sha256, sha384, sha512
}

// C14NConfig selects the default canonicalization method (spec.md §4.4).
type C14NConfig struct {
	// Method is one of "exclusive", "exclusive-comments", "c14n11",
	// "c14n11-comments", "inclusive", "inclusive-comments".
	Method string
}

// TSAConfig configures the RFC 3161 time-stamp authority collaborator
// (spec.md §4.7, §6).
type TSAConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// PolicyConfig configures where policy documents referenced by
// SignaturePolicyIdentifier are cached (spec.md §7 PolicyMissing /
// PolicyDigestMismatch).
type PolicyConfig struct {
	CacheDir string
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level string
}

// Load reads configuration from environment variables, with an optional
// ".env"/"config.yaml" overlay, following jhoicas-Inventario-api's
// Load().
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		App: AppConfig{
			Env: getString(v, "APP_ENV", "development"),
		},
		Hash: HashConfig{
			Algorithm: getString(v, "XADES_HASH_ALGORITHM", "sha256"),
		},
		C14N: C14NConfig{
			Method: getString(v, "XADES_C14N_METHOD", "c14n11"),
		},
		TSA: TSAConfig{
			Endpoint: getString(v, "XADES_TSA_ENDPOINT", ""),
			Timeout:  getDuration(v, "XADES_TSA_TIMEOUT", 10*time.Second),
		},
		Policy: PolicyConfig{
			CacheDir: getString(v, "XADES_POLICY_CACHE_DIR", ""),
		},
		Log: LogConfig{
			Level: getString(v, "LOG_LEVEL", "info"),
		},
	}

	return cfg, nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	switch val := v.Get(key).(type) {
	case string:
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		return def
	default:
		return def
	}
}
