package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/livepeer/livehls/segname"
)

var ErrNoOutputs = errors.New("Config Has No Outputs")

// Output configures one rendition: a segmenter writing a media playlist and
// its segments under Prefix.
type Output struct {
	Name        string        `yaml:"name"`
	Prefix      string        `yaml:"prefix"`
	Manifest    string        `yaml:"manifest"`
	Segment     string        `yaml:"segment"`
	MinGOP      time.Duration `yaml:"min_gop"`
	MinWindow   time.Duration `yaml:"min_window"`
	MaxSegments int           `yaml:"max_segments"`
	RetireDelay int           `yaml:"retire_delay"`
	EndList     bool          `yaml:"end_list"`

	// Advertised in the master playlist.
	Bandwidth  int64  `yaml:"bandwidth"`
	Resolution string `yaml:"resolution"`
	Codecs     string `yaml:"codecs"`
}

type Config struct {
	RTMPAddr  string   `yaml:"rtmp_addr"`
	OpsAddr   string   `yaml:"ops_addr"`
	Master    string   `yaml:"master"` // master playlist path, empty for none
	QueueSize int      `yaml:"queue_size"`
	Outputs   []Output `yaml:"outputs"`
}

func DefaultConfig() *Config {
	return &Config{
		RTMPAddr:  ":1935",
		OpsAddr:   ":7935",
		QueueSize: 64,
	}
}

// LoadEnv reads KEY=value pairs from the given files into the environment,
// ".env" when none are given. A missing file is not an error.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// GetEnv returns the value of key, or fallback if it is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback if it is unset or
// not a number.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// Load reads a YAML config file over the defaults, then applies the
// LIVEHLS_RTMP_ADDR, LIVEHLS_OPS_ADDR, LIVEHLS_MASTER and LIVEHLS_QUEUE_SIZE
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, pkgerrors.Wrapf(err, "parse %s", path)
		}
	}
	c.RTMPAddr = GetEnv("LIVEHLS_RTMP_ADDR", c.RTMPAddr)
	c.OpsAddr = GetEnv("LIVEHLS_OPS_ADDR", c.OpsAddr)
	c.Master = GetEnv("LIVEHLS_MASTER", c.Master)
	c.QueueSize = GetEnvInt("LIVEHLS_QUEUE_SIZE", c.QueueSize)
	c.applyDefaults()
	return c, c.Validate()
}

func (c *Config) applyDefaults() {
	for i := range c.Outputs {
		o := &c.Outputs[i]
		if o.Manifest == "" {
			o.Manifest = "index.m3u8"
		}
		if o.Segment == "" {
			o.Segment = "%6d.ts"
		}
		if o.Name == "" {
			o.Name = o.Prefix
		}
		if o.MinGOP == 0 {
			o.MinGOP = 2 * time.Second
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Outputs) == 0 {
		return ErrNoOutputs
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %v", c.QueueSize)
	}
	seen := make(map[string]bool)
	manifests := make(map[string]string)
	for i, o := range c.Outputs {
		if o.Prefix == "" {
			return fmt.Errorf("output %v: prefix is required", i)
		}
		if seen[o.Name] {
			return fmt.Errorf("output %v: duplicate name %q", i, o.Name)
		}
		seen[o.Name] = true
		if _, err := segname.Compile(o.Segment); err != nil {
			return pkgerrors.Wrapf(err, "output %q", o.Name)
		}
		path := filepath.Join(o.Prefix, o.Manifest)
		if other, ok := manifests[path]; ok {
			return fmt.Errorf("output %q: manifest %v is also written by %q", o.Name, path, other)
		}
		manifests[path] = o.Name
		if o.MinGOP < 0 || o.MinWindow < 0 || o.MaxSegments < 0 || o.RetireDelay < 0 {
			return fmt.Errorf("output %q: negative limit", o.Name)
		}
		if c.Master != "" && o.Bandwidth <= 0 {
			return fmt.Errorf("output %q: bandwidth is required with a master playlist", o.Name)
		}
	}
	return nil
}
