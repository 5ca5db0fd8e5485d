// Package config loads the agent's static YAML configuration, the same
// flag-overridable nested-struct shape the teacher's cmd/gateway/main.go
// uses for its own config file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StaticConfig is the care package's immutable half: everything the
// lifecycle runner and MQTT bring-up need that never changes mid-run.
type StaticConfig struct {
	CloudAPI CloudAPIConfig `yaml:"cloud_api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Storage  StorageConfig  `yaml:"storage"`
	Runner   RunnerConfig   `yaml:"runner"`
	IPC      IPCConfig      `yaml:"ipc"`
	LogLevel string         `yaml:"log_level"`
}

type CloudAPIConfig struct {
	ThingsBaseURL string        `yaml:"things_base_url"`
	AuthBaseURL   string        `yaml:"auth_base_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

type MQTTConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	KeepAlive         time.Duration `yaml:"keep_alive"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	// ASCIIOnlyPublish toggles the ASCII-filtering wart on outbound publish
	// payloads. Default true to match current deployments.
	ASCIIOnlyPublish bool `yaml:"ascii_only_publish"`
}

type StorageConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	RegistryPath    string `yaml:"registry_path"`
	CertDir         string `yaml:"cert_dir"`
}

type RunnerConfig struct {
	TickInterval          time.Duration `yaml:"tick_interval"`
	AuthRefreshInterval    time.Duration `yaml:"auth_refresh_interval"`
	AuthRefreshRetryBackoff time.Duration `yaml:"auth_refresh_retry_backoff"`
}

type IPCConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file is supplied, matching
// the values spec.md names explicitly (5s keep-alive, 10s reconnect, 250ms
// tick, 24h/5min auth refresh cadence).
func Default() StaticConfig {
	return StaticConfig{
		CloudAPI: CloudAPIConfig{
			ThingsBaseURL: "https://things.example.com",
			AuthBaseURL:   "https://auth.example.com",
			Timeout:       10 * time.Second,
		},
		MQTT: MQTTConfig{
			Host:              "mqtt.example.com",
			Port:              8883,
			KeepAlive:         5 * time.Second,
			ReconnectInterval: 10 * time.Second,
			ASCIIOnlyPublish:  true,
		},
		Storage: StorageConfig{
			CredentialsPath: "./data/credentials.json",
			RegistryPath:    "./data/registry.json",
			CertDir:         "./data/certs",
		},
		Runner: RunnerConfig{
			TickInterval:            250 * time.Millisecond,
			AuthRefreshInterval:     24 * time.Hour,
			AuthRefreshRetryBackoff: 5 * time.Minute,
		},
		IPC: IPCConfig{
			ListenAddr: ":8080",
		},
	}
}

// Load reads and parses a YAML config file, starting from Default() so an
// incomplete file still yields sane values for anything it omits.
func Load(path string) (StaticConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return StaticConfig{}, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return StaticConfig{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cfg, nil
}
