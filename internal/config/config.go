// Package config holds gateway settings. Load reads the environment
// (TSGATE_* variables); ApplyFile merges an optional YAML file on top, and
// command-line flags override both in the binary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10ms"
// (or from plain numbers, read as seconds).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// A plain number also decodes into a string, so try the number first.
	var secs float64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*d = 0
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", s, err)
	}
	*d = Duration(dd)
	return nil
}

// Config holds input/output, key, and service settings.
type Config struct {
	// Streams
	Input  string `yaml:"input"`  // "-", file path, udp://group:port, http(s)://…
	Output string `yaml:"output"` // "-" or file path

	// Descrambling
	EvenCW  string        `yaml:"even_cw"`
	OddCW   string        `yaml:"odd_cw"`
	PIDs    []uint16      `yaml:"pids"`
	Latency Duration `yaml:"latency"` // >0 enables CSA batching with this budget

	// Persistence and live keys
	Service      string `yaml:"service"`       // name used in the keystore
	KeystorePath string `yaml:"keystore"`      // "" disables persistence
	RedisAddr    string `yaml:"redis_addr"`    // "" disables the key subscription
	RedisChannel string `yaml:"redis_channel"` // pub/sub channel for key updates

	// Replay pacing: bits per second for file inputs; 0 reads at full speed.
	PaceBits float64 `yaml:"pace_bits"`

	// Operations
	MetricsAddr string `yaml:"metrics_addr"` // "" disables the HTTP listener
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		Input:        getEnv("TSGATE_INPUT", "-"),
		Output:       getEnv("TSGATE_OUTPUT", "-"),
		EvenCW:       os.Getenv("TSGATE_EVEN_CW"),
		OddCW:        os.Getenv("TSGATE_ODD_CW"),
		PIDs:         getEnvPIDs("TSGATE_PIDS"),
		Latency:      Duration(getEnvDuration("TSGATE_LATENCY", 0)),
		Service:      getEnv("TSGATE_SERVICE", "default"),
		KeystorePath: os.Getenv("TSGATE_KEYSTORE"),
		RedisAddr:    os.Getenv("TSGATE_REDIS_ADDR"),
		RedisChannel: getEnv("TSGATE_REDIS_CHANNEL", "tsgate.keys"),
		PaceBits:     getEnvFloat("TSGATE_PACE_BITS", 0),
		MetricsAddr:  os.Getenv("TSGATE_METRICS_ADDR"),
	}
}

// ApplyFile merges a YAML config file into c. Zero-valued file fields leave
// the existing values alone.
func (c *Config) ApplyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	merge(c, &file)
	return nil
}

func merge(dst, src *Config) {
	if src.Input != "" {
		dst.Input = src.Input
	}
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.EvenCW != "" {
		dst.EvenCW = src.EvenCW
	}
	if src.OddCW != "" {
		dst.OddCW = src.OddCW
	}
	if len(src.PIDs) > 0 {
		dst.PIDs = src.PIDs
	}
	if src.Latency != 0 {
		dst.Latency = src.Latency
	}
	if src.Service != "" {
		dst.Service = src.Service
	}
	if src.KeystorePath != "" {
		dst.KeystorePath = src.KeystorePath
	}
	if src.RedisAddr != "" {
		dst.RedisAddr = src.RedisAddr
	}
	if src.RedisChannel != "" {
		dst.RedisChannel = src.RedisChannel
	}
	if src.PaceBits != 0 {
		dst.PaceBits = src.PaceBits
	}
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// getEnvPIDs parses a comma-separated PID list; entries may be decimal or
// 0x-prefixed hex. Bad entries are skipped.
func getEnvPIDs(key string) []uint16 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var pids []uint16
	for _, field := range strings.Split(v, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.ParseUint(field, 0, 16)
		if err != nil || n > 0x1FFF {
			continue
		}
		pids = append(pids, uint16(n))
	}
	return pids
}
