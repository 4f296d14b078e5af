// Package conf loads catalog backend settings from defaults, an optional
// config file, a .env file and MARE_-prefixed environment variables.
package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mare-catalogo/backend/internal/worker"
)

// EnvPrefix prefixes every environment variable: MARE_REMOTE_URL, ...
const EnvPrefix = "MARE"

// Settings is the complete runtime configuration.
type Settings struct {
	Server       ServerSettings       `mapstructure:"server"`
	Data         DataSettings         `mapstructure:"data"`
	Worker       WorkerSettings       `mapstructure:"worker"`
	Remote       RemoteSettings       `mapstructure:"remote"`
	Queue        QueueSettings        `mapstructure:"queue"`
	Monitor      MonitorSettings      `mapstructure:"monitor"`
	Notification NotificationSettings `mapstructure:"notification"`
	Log          LogSettings          `mapstructure:"log"`
}

// ServerSettings configures the HTTP listener and the catalog origin the
// cache controller fronts.
type ServerSettings struct {
	Listen        string        `mapstructure:"listen"`
	Origin        string        `mapstructure:"origin"`
	OriginTimeout time.Duration `mapstructure:"origin_timeout"`
}

// DataSettings configures durable storage. An empty Dir keeps everything in
// memory.
type DataSettings struct {
	Dir        string `mapstructure:"dir"`
	StoreQuota int64  `mapstructure:"store_quota"`
}

// WorkerSettings configures the cache controller.
type WorkerSettings struct {
	Generation            string   `mapstructure:"generation"`
	Manifest              []string `mapstructure:"manifest"`
	SkipWaitingOnInstall  bool     `mapstructure:"skip_waiting_on_install"`
	CatalogFreshWithinDay bool     `mapstructure:"catalog_fresh_within_day"`
}

// RemoteSettings configures the remote order service.
type RemoteSettings struct {
	URL          string        `mapstructure:"url"`
	AnonKey      string        `mapstructure:"anon_key"`
	Table        string        `mapstructure:"table"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// QueueSettings configures the offline order queue.
type QueueSettings struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// MonitorSettings configures the connectivity monitor.
type MonitorSettings struct {
	Interval      time.Duration `mapstructure:"interval"`
	InitialOnline bool          `mapstructure:"initial_online"`
}

// NotificationSettings lists shoutrrr service URLs.
type NotificationSettings struct {
	URLs []string `mapstructure:"urls"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.origin", "http://localhost:5173")
	v.SetDefault("server.origin_timeout", 15*time.Second)

	v.SetDefault("data.dir", "data")
	v.SetDefault("data.store_quota", int64(5<<20))

	v.SetDefault("worker.generation", "mare-v1.2.0")
	v.SetDefault("worker.manifest", worker.DefaultManifest)
	v.SetDefault("worker.skip_waiting_on_install", true)
	v.SetDefault("worker.catalog_fresh_within_day", false)

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.anon_key", "")
	v.SetDefault("remote.table", "pedidos_recibidos")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("remote.probe_timeout", 5*time.Second)

	v.SetDefault("queue.max_attempts", 10)

	v.SetDefault("monitor.interval", 30*time.Second)
	v.SetDefault("monitor.initial_online", true)

	v.SetDefault("notification.urls", []string{})

	v.SetDefault("log.level", "info")
}

// Load reads settings. configFile may be empty, in which case config.yaml is
// looked up in the working directory and /etc/catalogd. envFiles are loaded
// into the environment first; missing files are ignored.
func Load(configFile string, envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The frontend build's variable names are accepted as-is.
	if err := v.BindEnv("remote.url", EnvPrefix+"_REMOTE_URL", "VITE_SUPABASE_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("remote.anon_key", EnvPrefix+"_REMOTE_ANON_KEY", "VITE_SUPABASE_ANON_KEY"); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/catalogd")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks cross-field constraints.
func (s *Settings) Validate() error {
	var errs []error

	if u, err := url.Parse(s.Server.Origin); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.origin must be an absolute URL, got %q", s.Server.Origin))
	}
	if s.Remote.URL != "" {
		if u, err := url.Parse(s.Remote.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.url must be an absolute URL, got %q", s.Remote.URL))
		}
	}
	if strings.TrimSpace(s.Worker.Generation) == "" {
		errs = append(errs, errors.New("worker.generation must not be empty"))
	}
	if s.Queue.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("queue.max_attempts must be at least 1, got %d", s.Queue.MaxAttempts))
	}
	if s.Monitor.Interval < time.Second {
		errs = append(errs, fmt.Errorf("monitor.interval must be at least 1s, got %s", s.Monitor.Interval))
	}
	for name, d := range map[string]time.Duration{
		"server.origin_timeout": s.Server.OriginTimeout,
		"remote.timeout":        s.Remote.Timeout,
		"remote.probe_timeout":  s.Remote.ProbeTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	return errors.Join(errs...)
}

// InMemory reports whether durable storage is disabled.
func (s *Settings) InMemory() bool {
	return s.Data.Dir == ""
}
