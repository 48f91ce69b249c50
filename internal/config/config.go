// Package config loads leap CLI settings from flags, LEAP_* environment
// variables and an optional yaml file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lightforgemedia/go-leapmq/pkg/credentials"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. LEAP_HOST or LEAP_LOG_LEVEL.
const EnvPrefix = "LEAP"

// Config holds everything the CLI needs to reach a bridge.
type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	CAFile         string        `mapstructure:"ca_file"`
	KeyFile        string        `mapstructure:"key_file"`
	CertFile       string        `mapstructure:"cert_file"`
	ServerName     string        `mapstructure:"server_name"`
	WebSocketURL   string        `mapstructure:"websocket_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	KeepAlive      time.Duration `mapstructure:"keepalive"`
	KeepAliveURL   string        `mapstructure:"keepalive_url"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	Log            LogConfig     `mapstructure:"log"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults are applied before flags, environment and file.
var Defaults = struct {
	Port           int
	RequestTimeout time.Duration
	KeepAliveURL   string
	LogLevel       string
	LogFormat      string
}{
	Port:           8081,
	RequestTimeout: 10 * time.Second,
	KeepAliveURL:   "/server/1/status/ping",
	LogLevel:       "info",
	LogFormat:      "text",
}

// SetDefaults registers Defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", Defaults.Port)
	v.SetDefault("request_timeout", Defaults.RequestTimeout)
	v.SetDefault("keepalive", time.Duration(0))
	v.SetDefault("keepalive_url", Defaults.KeepAliveURL)
	v.SetDefault("log.level", Defaults.LogLevel)
	v.SetDefault("log.format", Defaults.LogFormat)
}

// BindFlags declares the connection flags on cmd as persistent flags and
// binds them to v.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()

	f.String("config", "", "config file path (default ./leap.yaml or ~/.config/leap/leap.yaml)")
	f.String("host", "", "bridge host")
	f.Int("port", 0, "bridge port (default 8081)")
	f.String("ca", "", "CA certificate PEM file")
	f.String("key", "", "client key PEM file")
	f.String("cert", "", "client certificate PEM file")
	f.String("server-name", "", "verify the bridge certificate against this name")
	f.String("websocket-url", "", "reach the bridge through a websocket tunnel instead of TLS")
	f.Duration("timeout", 0, "request timeout (default 10s)")
	f.Duration("keepalive", 0, "keepalive ping interval, 0 disables")
	f.String("metrics-addr", "", "serve prometheus metrics on this address")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")

	_ = v.BindPFlag("host", f.Lookup("host"))
	_ = v.BindPFlag("port", f.Lookup("port"))
	_ = v.BindPFlag("ca_file", f.Lookup("ca"))
	_ = v.BindPFlag("key_file", f.Lookup("key"))
	_ = v.BindPFlag("cert_file", f.Lookup("cert"))
	_ = v.BindPFlag("server_name", f.Lookup("server-name"))
	_ = v.BindPFlag("websocket_url", f.Lookup("websocket-url"))
	_ = v.BindPFlag("request_timeout", f.Lookup("timeout"))
	_ = v.BindPFlag("keepalive", f.Lookup("keepalive"))
	_ = v.BindPFlag("metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("log.level", f.Lookup("log-level"))
	_ = v.BindPFlag("log.format", f.Lookup("log-format"))
}

// Load applies defaults, reads the config file when one exists and
// unmarshals the merged settings. An explicitly named file must exist.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("leap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "leap"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Validate reports missing or out of range settings. The websocket tunnel
// needs neither host nor certificate files.
func (c Config) Validate() error {
	var errs []error
	if c.WebSocketURL == "" {
		if c.Host == "" {
			errs = append(errs, errors.New("host is required"))
		}
		if c.Port <= 0 || c.Port > 65535 {
			errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
		}
		if c.CAFile == "" || c.KeyFile == "" || c.CertFile == "" {
			errs = append(errs, errors.New("ca, key and cert files are required"))
		}
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if c.KeepAlive < 0 {
		errs = append(errs, errors.New("keepalive must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Credentials returns a source that reads the configured PEM files on
// every connect.
func (c Config) Credentials() credentials.FileSource {
	return credentials.FileSource{CAFile: c.CAFile, KeyFile: c.KeyFile, CertFile: c.CertFile}
}
