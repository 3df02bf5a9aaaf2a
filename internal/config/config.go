package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mostafaomar7/tadawi-checkout/internal/backend"
	"github.com/mostafaomar7/tadawi-checkout/internal/logger"
	"github.com/mostafaomar7/tadawi-checkout/internal/paypal"
	"github.com/mostafaomar7/tadawi-checkout/internal/publisher"
	"github.com/mostafaomar7/tadawi-checkout/internal/repository"
)

const envPrefix = "TADAWI_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		GRPCAddr string `koanf:"grpc_addr"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		HandlerTimeout  time.Duration `koanf:"handler_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
		MaxUploadBytes  int64         `koanf:"max_upload_bytes"`
	} `koanf:"http"`

	Log logger.Config `koanf:"log"`

	Backend backend.Config `koanf:"backend"`

	PayPal paypal.Config `koanf:"paypal"`

	Redis struct {
		Addr        string        `koanf:"addr"`
		Password    string        `koanf:"password"`
		DB          int           `koanf:"db"`
		SnapshotTTL time.Duration `koanf:"snapshot_ttl"`
	} `koanf:"redis"`

	Database repository.Credentials `koanf:"database"`

	Kafka struct {
		publisher.Config `koanf:",squash"`
		ConsumerGroup    string `koanf:"consumer_group"`
	} `koanf:"kafka"`

	Session struct {
		TTL            time.Duration `koanf:"ttl"`
		SweepInterval  time.Duration `koanf:"sweep_interval"`
		SubmitTimeout  time.Duration `koanf:"submit_timeout"`
		CaptureLockTTL time.Duration `koanf:"capture_lock_ttl"`
	} `koanf:"session"`

	Security struct {
		JWTSecret string `koanf:"jwt_secret"`
		Issuer    string `koanf:"issuer"`
		Audience  string `koanf:"audience"`
	} `koanf:"security"`
}

// Load reads <dir>/base.yaml, an optional <dir>/<envName>.yaml, then TADAWI_
// environment variables (TADAWI_PAYPAL__SECRET sets paypal.secret).
func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(filepath.Join(pathDir, "base.yaml")), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	if envName != "" {
		overlay := filepath.Join(pathDir, envName+".yaml")
		if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", overlay, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.App.HTTPAddr == "" {
		errs = append(errs, errors.New("app.http_addr required"))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url required"))
	}
	if c.PayPal.BaseURL == "" || c.PayPal.ClientID == "" || c.PayPal.Secret == "" {
		errs = append(errs, errors.New("paypal.base_url, paypal.client_id and paypal.secret required"))
	}
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("security.jwt_secret required"))
	}
	switch c.Database.Driver {
	case repository.DriverPostgres:
		if c.Database.Host == "" || c.Database.DBName == "" {
			errs = append(errs, errors.New("database.host and database.dbname required for postgres"))
		}
	case repository.DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q", repository.DriverPostgres, repository.DriverSQLite))
	}
	if c.Database.MigrationsDirPath == "" {
		errs = append(errs, errors.New("database.migrations_dir required"))
	}
	if c.Session.SubmitTimeout <= 0 {
		errs = append(errs, errors.New("session.submit_timeout must be positive"))
	}
	return errors.Join(errs...)
}
