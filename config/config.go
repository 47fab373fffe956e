package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DetectorOpenCV = "opencv"
	DetectorGRPC   = "grpc"
	DetectorHTTP   = "http"
)

type Config struct {
	HTTPPort    int `yaml:"httpPort" env:"QRSCAN_HTTP_PORT"`
	MonitorPort int `yaml:"monitorPort" env:"QRSCAN_MONITOR_PORT"`
	// RPCPort exposes the local detector over gRPC; 0 disables it.
	RPCPort     int `yaml:"rpcPort" env:"QRSCAN_RPC_PORT"`
	RecentCodes int `yaml:"recentCodes" env:"QRSCAN_RECENT_CODES"`

	Log      LogConfig      `yaml:"log" envPrefix:"QRSCAN_LOG_"`
	Detector DetectorConfig `yaml:"detector" envPrefix:"QRSCAN_DETECTOR_"`
	AMQP     AMQPConfig     `yaml:"amqp" envPrefix:"QRSCAN_AMQP_"`
	Registry RegistryConfig `yaml:"registry" envPrefix:"QRSCAN_REGISTRY_"`
	Source   SourceConfig   `yaml:"source" envPrefix:"QRSCAN_SOURCE_"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

type DetectorConfig struct {
	Kind    string        `yaml:"kind" env:"KIND"`
	Address string        `yaml:"address" env:"ADDRESS"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Workers int           `yaml:"workers" env:"WORKERS"`
}

// AMQPConfig enables publishing code reads when URL is set.
type AMQPConfig struct {
	URL        string `yaml:"url" env:"URL"`
	Exchange   string `yaml:"exchange" env:"EXCHANGE"`
	RoutingKey string `yaml:"routingKey" env:"ROUTING_KEY"`
	Buffer     int    `yaml:"buffer" env:"BUFFER"`
}

// RegistryConfig enables heartbeat registration when URL is set.
type RegistryConfig struct {
	URL      string        `yaml:"url" env:"URL"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// SourceConfig replays a video file into the scheduler when Video is set.
type SourceConfig struct {
	Video string `yaml:"video" env:"VIDEO"`
}

func Default() *Config {
	return &Config{
		HTTPPort:    8080,
		MonitorPort: 50052,
		RecentCodes: 50,
		Log:         LogConfig{Level: "info"},
		Detector: DetectorConfig{
			Kind:    DetectorOpenCV,
			Timeout: 5 * time.Second,
			Workers: 1,
		},
		AMQP: AMQPConfig{
			Exchange:   "qrscan",
			RoutingKey: "codes.read",
			Buffer:     64,
		},
		Registry: RegistryConfig{Interval: 5 * time.Second},
	}
}

// Load reads path on top of the defaults, then applies QRSCAN_* environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills unset values and rejects unusable ones.
func (c *Config) Validate() error {
	if c.Detector.Workers <= 0 {
		c.Detector.Workers = 1
	}
	if c.Detector.Timeout <= 0 {
		c.Detector.Timeout = 5 * time.Second
	}
	if c.RecentCodes <= 0 {
		c.RecentCodes = 50
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	switch c.Detector.Kind {
	case DetectorOpenCV:
	case DetectorGRPC, DetectorHTTP:
		if c.Detector.Address == "" {
			return fmt.Errorf("detector kind %q needs an address", c.Detector.Kind)
		}
	default:
		return fmt.Errorf("unknown detector kind %q", c.Detector.Kind)
	}
	for name, port := range map[string]int{"httpPort": c.HTTPPort, "monitorPort": c.MonitorPort, "rpcPort": c.RPCPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s %d out of range", name, port)
		}
	}
	return nil
}
