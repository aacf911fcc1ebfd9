package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/Zereker/msgnet"
)

// Config interface defines the basic configuration contract
type Config interface {
	GetName() string
	Validate() error
}

// defaulter is implemented by configs that seed viper with their defaults,
// which also makes every key overridable from the environment.
type defaulter interface {
	SetDefaults(v *viper.Viper)
}

// ServerConfig configures a msgnet server process.
type ServerConfig struct {
	Name           string        `mapstructure:"name"`
	Host           string        `mapstructure:"host"`
	Port           uint16        `mapstructure:"port"`
	MetricsAddr    string        `mapstructure:"metricsAddr"`
	LogLevel       string        `mapstructure:"logLevel"`
	MaxPayload     int           `mapstructure:"maxPayload"`
	ReadBuffer     int           `mapstructure:"readBuffer"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
	SendRate       int           `mapstructure:"sendRate"`
	MaxConns       int           `mapstructure:"maxConns"`
	AcceptRate     float64       `mapstructure:"acceptRate"`
	AcceptBurst    int           `mapstructure:"acceptBurst"`
	UpdateBatch    int           `mapstructure:"updateBatch"`
	MetricsEnabled bool          `mapstructure:"metricsEnabled"`
}

// GetName returns the process name.
func (c *ServerConfig) GetName() string {
	return c.Name
}

// SetDefaults registers the default of every key on v.
func (c *ServerConfig) SetDefaults(v *viper.Viper) {
	v.SetDefault("name", "msgnet-server")
	v.SetDefault("host", "")
	v.SetDefault("port", 60000)
	v.SetDefault("metricsAddr", ":9100")
	v.SetDefault("logLevel", "info")
	v.SetDefault("maxPayload", 1024*1024)
	v.SetDefault("readBuffer", 4096)
	v.SetDefault("heartbeat", time.Duration(0))
	v.SetDefault("sendRate", 0)
	v.SetDefault("maxConns", 0)
	v.SetDefault("acceptRate", 0.0)
	v.SetDefault("acceptBurst", 0)
	v.SetDefault("updateBatch", 0)
	v.SetDefault("metricsEnabled", true)
}

// Validate reports the first invalid field.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return errors.New("name cannot be empty")
	}
	if c.MaxPayload < 0 || c.ReadBuffer < 0 || c.SendRate < 0 || c.MaxConns < 0 || c.AcceptBurst < 0 {
		return errors.New("sizes and limits cannot be negative")
	}
	if c.AcceptRate < 0 {
		return errors.Errorf("acceptRate %v cannot be negative", c.AcceptRate)
	}
	if c.Heartbeat < 0 {
		return errors.Errorf("heartbeat %v cannot be negative", c.Heartbeat)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level.
func (c *ServerConfig) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// Options translates the config into server options. metrics may be nil.
func (c *ServerConfig) Options(logger msgnet.Logger, metrics *msgnet.Metrics) []msgnet.Option {
	opts := []msgnet.Option{
		msgnet.LoggerOption(logger),
		msgnet.ListenHostOption(c.Host),
		msgnet.MessageMaxSize(c.MaxPayload),
		msgnet.ReadBufferSizeOption(c.ReadBuffer),
		msgnet.HeartbeatOption(c.Heartbeat),
		msgnet.SendRateOption(c.SendRate),
		msgnet.MaxConnectionsOption(c.MaxConns),
	}
	if metrics != nil {
		opts = append(opts, msgnet.MetricsOption(metrics))
	}
	if c.AcceptRate > 0 {
		opts = append(opts, msgnet.AcceptRateOption(rate.Limit(c.AcceptRate), c.AcceptBurst))
	}
	return opts
}

// Metrics builds the server's collectors on reg when metrics are enabled.
func (c *ServerConfig) Metrics(reg prometheus.Registerer) *msgnet.Metrics {
	if !c.MetricsEnabled {
		return nil
	}
	return msgnet.NewMetrics(reg, namespace(c.Name))
}

// ClientConfig configures a msgnet client process.
type ClientConfig struct {
	Name         string        `mapstructure:"name"`
	Host         string        `mapstructure:"host"`
	Port         uint16        `mapstructure:"port"`
	LogLevel     string        `mapstructure:"logLevel"`
	MaxPayload   int           `mapstructure:"maxPayload"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	Heartbeat    time.Duration `mapstructure:"heartbeat"`
	SendRate     int           `mapstructure:"sendRate"`
	PingInterval time.Duration `mapstructure:"pingInterval"`
}

// GetName returns the process name.
func (c *ClientConfig) GetName() string {
	return c.Name
}

// SetDefaults registers the default of every key on v.
func (c *ClientConfig) SetDefaults(v *viper.Viper) {
	v.SetDefault("name", "msgnet-client")
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 60000)
	v.SetDefault("logLevel", "info")
	v.SetDefault("maxPayload", 1024*1024)
	v.SetDefault("dialTimeout", 5*time.Second)
	v.SetDefault("heartbeat", time.Duration(0))
	v.SetDefault("sendRate", 0)
	v.SetDefault("pingInterval", time.Second)
}

// Validate reports the first invalid field.
func (c *ClientConfig) Validate() error {
	if c.Name == "" {
		return errors.New("name cannot be empty")
	}
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port == 0 {
		return errors.New("port must be between 1 and 65535")
	}
	if c.PingInterval <= 0 {
		return errors.Errorf("pingInterval %v must be positive", c.PingInterval)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level.
func (c *ClientConfig) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// Options translates the config into client options.
func (c *ClientConfig) Options(logger msgnet.Logger) []msgnet.Option {
	return []msgnet.Option{
		msgnet.LoggerOption(logger),
		msgnet.MessageMaxSize(c.MaxPayload),
		msgnet.DialTimeoutOption(c.DialTimeout),
		msgnet.HeartbeatOption(c.Heartbeat),
		msgnet.SendRateOption(c.SendRate),
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, errors.Wrapf(err, "logLevel %q", s)
	}
	return level, nil
}

// namespace turns a process name into a Prometheus namespace.
func namespace(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
