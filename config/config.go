package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreLevelDB  = "leveldb"

	DefaultEndpoint = "http://localhost:8000"
	DefaultUsername = "user000"
)

type Config struct {
	Server Server `yaml:"server"`
	Client Client `yaml:"client"`
	Log    Log    `yaml:"log"`
}

type Server struct {
	Addr           string        `yaml:"addr"`
	Store          string        `yaml:"store"` // postgres, leveldb
	PostgresDsn    string        `yaml:"postgresDsn"`
	LevelDBPath    string        `yaml:"leveldbPath"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
}

type Client struct {
	Endpoint string        `yaml:"endpoint"`
	Username string        `yaml:"username"`
	Timeout  time.Duration `yaml:"timeout"` // zero means no timeout
}

type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:           ":8000",
			Store:          StoreLevelDB,
			LevelDBPath:    "./data/records",
			CacheTTL:       10 * time.Minute,
			AllowedOrigins: []string{"*"},
		},
		Client: Client{
			Endpoint: DefaultEndpoint,
			Username: DefaultUsername,
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load layers configuration: defaults, then the YAML file at path (skipped
// when path is empty or missing), then environment variables. A .env file
// in the working directory is loaded into the environment first.
func Load(path string) (Config, error) {
	// No .env file is fine, the OS environment is used as is.
	_ = godotenv.Load()

	conf := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &conf); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := conf.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	switch c.Server.Store {
	case StorePostgres:
		if c.Server.PostgresDsn == "" {
			return errors.New("postgres store selected but no DSN configured")
		}
	case StoreLevelDB:
		if c.Server.LevelDBPath == "" {
			return errors.New("leveldb store selected but no path configured")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Server.Store)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "RECORDPAD_ADDR")
	setString(&c.Server.Store, "RECORDPAD_STORE")
	setString(&c.Server.LevelDBPath, "RECORDPAD_LEVELDB_PATH")
	setString(&c.Server.PostgresDsn, "DATABASE_URL")
	if c.Server.PostgresDsn == "" {
		c.Server.PostgresDsn = dsnFromParts()
	}
	if v := env("RECORDPAD_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if err := setDuration(&c.Server.CacheTTL, "RECORDPAD_CACHE_TTL"); err != nil {
		return err
	}

	setString(&c.Client.Endpoint, "RECORDPAD_ENDPOINT")
	setString(&c.Client.Username, "RECORDPAD_USERNAME")
	if err := setDuration(&c.Client.Timeout, "RECORDPAD_TIMEOUT"); err != nil {
		return err
	}

	setString(&c.Log.Level, "RECORDPAD_LOG_LEVEL")
	setString(&c.Log.File, "RECORDPAD_LOG_FILE")
	return nil
}

// dsnFromParts composes a DSN from the discrete user/password/host/port/dbname
// variables. It returns "" unless host is set.
func dsnFromParts() string {
	host := env("host")
	if host == "" {
		return ""
	}
	port := env("port")
	if port == "" {
		port = "5432"
	}
	sslMode := env("sslmode")
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		env("user"), env("password"), host, port, env("dbname"), sslMode)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := env(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
