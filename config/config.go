// Package config loads the settings shared by the xmlrpcd daemon and the
// xmlrpc-call command: defaults, then an optional YAML file, then a .env file
// and XMLRPC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPaths are tried in order when Load is given no path.
var DefaultPaths = []string{"configs/xmlrpc.yaml", "xmlrpc.yaml"}

type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Namespaces []NamespaceConfig `yaml:"namespaces"`
	Client     ClientConfig      `yaml:"client"`
	Etcd       EtcdConfig        `yaml:"etcd"`
	Keys       KeyStoreConfig    `yaml:"keys"`
	Log        LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Listen        string        `yaml:"listen"`
	AdvertiseAddr string        `yaml:"advertiseAddress"`
	Path          string        `yaml:"path"`
	AdminListen   string        `yaml:"adminListen"`
	AdminToken    string        `yaml:"adminToken"` // Bearer token for the admin endpoints; empty leaves only key-holder auth
	RootNamespace string        `yaml:"rootNamespace"`
	Scheme        string        `yaml:"scheme"`
	RateLimit     float64       `yaml:"rateLimit"` // Calls per second; 0 disables limiting
	RateBurst     int           `yaml:"rateBurst"`
	CallTimeout   time.Duration `yaml:"callTimeout"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
}

// NamespaceConfig mounts one product namespace. Keys left empty are read from
// the key store.
type NamespaceConfig struct {
	Name      string `yaml:"name"`
	PublicKey string `yaml:"publicKey"`
	SecretKey string `yaml:"secretKey"`
}

type ClientConfig struct {
	Server      string        `yaml:"server"`
	PublicKey   string        `yaml:"publicKey"`
	SecretKey   string        `yaml:"secretKey"`
	Timeout     time.Duration `yaml:"timeout"`
	UserAgent   string        `yaml:"userAgent"`
	CallbackURL string        `yaml:"callbackURL"`
	Scheme      string        `yaml:"scheme"`
	Discover    string        `yaml:"discover"` // Namespace to resolve through etcd, e.g. "wp.acme"
	Balancer    string        `yaml:"balancer"`
}

type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Register  bool     `yaml:"register"`
}

type KeyStoreConfig struct {
	Backend string `yaml:"backend"` // memory, file or etcd
	Path    string `yaml:"path"`
	Prefix  string `yaml:"prefix"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:        ":8080",
			Path:          "/xmlrpc",
			AdminListen:   "127.0.0.1:9090",
			RootNamespace: "wp",
			Scheme:        "legacy-ecb",
			RateBurst:     1,
			CallTimeout:   30 * time.Second,
			ShutdownGrace: 10 * time.Second,
		},
		Client: ClientConfig{
			Timeout:  15 * time.Second,
			Scheme:   "legacy-ecb",
			Balancer: "roundrobin",
		},
		Keys: KeyStoreConfig{
			Backend: "file",
			Path:    "keys.yaml",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. An explicit path must exist; without one the
// DefaultPaths are tried and skipped when absent. A .env file in the working
// directory is loaded before the environment overrides are applied; variables
// already set in the environment win over it.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	} else {
		for _, candidate := range DefaultPaths {
			err := loadFile(candidate, &cfg)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return Config{}, err
			}
			break
		}
	}

	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

// loadFile decodes the YAML file at path over cfg. Keys absent from the file
// keep their current values.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
