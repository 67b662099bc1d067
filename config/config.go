// Package config loads FaceGuard settings from a single YAML file.
//
// The file is named by the --config flag or the FACEGUARD_CONFIG environment
// variable. There is no search path. When neither is set the built-in
// defaults apply. The signing secret never lives in the file; it is read from
// the environment variable named by secret_env, or from secret_file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"xdao.co/faceguard/faults"
	"xdao.co/faceguard/keys"
	"xdao.co/faceguard/prng"
	"xdao.co/faceguard/shield"
	"xdao.co/faceguard/watermark"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "FACEGUARD_CONFIG"

// DefaultSecretEnv is the environment variable the secret is read from by default.
const DefaultSecretEnv = "FACEGUARD_SECRET"

type Config struct {
	// SecretEnv names the environment variable holding the server secret.
	SecretEnv string `yaml:"secret_env"`
	// SecretFile, when set, is read instead of SecretEnv. It must not be
	// readable by group or other.
	SecretFile string `yaml:"secret_file"`

	Aggression    string `yaml:"aggression"`
	AllowDegraded bool   `yaml:"allow_degraded"`
	PostQuantum   bool   `yaml:"post_quantum"`
	PRNG          string `yaml:"prng"`

	Watermark WatermarkConfig `yaml:"watermark"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
}

type WatermarkConfig struct {
	SignatureTag string `yaml:"signature_tag"`
	WarningTag   string `yaml:"warning_tag"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// StoreConfig selects where protected artifacts are deposited.
type StoreConfig struct {
	// Backend is none, localfs or grpc.
	Backend     string        `yaml:"backend"`
	LocalFSDir  string        `yaml:"localfs_dir"`
	GRPCTarget  string        `yaml:"grpc_target"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxMsgBytes int           `yaml:"max_msg_bytes"`
	// Listen is the daemon's listen address.
	Listen string `yaml:"listen"`
	// Replicas receive a copy of every deposit. Reads try the primary first,
	// then each replica in order.
	Replicas []ReplicaConfig `yaml:"replicas"`
}

// ReplicaConfig is one additional deposit target.
type ReplicaConfig struct {
	Name       string `yaml:"name"`
	Backend    string `yaml:"backend"`
	LocalFSDir string `yaml:"localfs_dir"`
	GRPCTarget string `yaml:"grpc_target"`
}

func Default() *Config {
	return &Config{
		SecretEnv:  DefaultSecretEnv,
		Aggression: string(shield.Normal),
		PRNG:       string(prng.Default),
		Watermark: WatermarkConfig{
			SignatureTag: watermark.DefaultSignatureTag,
			WarningTag:   watermark.DefaultWarningTag,
		},
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{Backend: "none", Timeout: 10 * time.Second, Listen: "127.0.0.1:7443"},
	}
}

// Load reads path, or FACEGUARD_CONFIG when path is empty. With neither set it
// returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads one YAML file over the defaults. Unknown keys are errors.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Wrap(faults.KindValidation, "FG-CFG-001", "read config", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, faults.Wrap(faults.KindValidation, "FG-CFG-002", "parse config "+path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.SecretEnv == "" && c.SecretFile == "" {
		errs = append(errs, fmt.Errorf("one of secret_env or secret_file is required"))
	}
	if _, err := shield.ParseLevel(c.Aggression); err != nil {
		errs = append(errs, err)
	}
	if c.PRNG != string(prng.SineHash) && c.PRNG != string(prng.ChaCha20) {
		errs = append(errs, fmt.Errorf("prng must be one of: %s, %s", prng.SineHash, prng.ChaCha20))
	}
	if c.Watermark.SignatureTag == "" || strings.Contains(c.Watermark.SignatureTag, watermark.Delimiter) {
		errs = append(errs, fmt.Errorf("watermark.signature_tag must be non-empty and must not contain %q", watermark.Delimiter))
	}
	if strings.Contains(c.Watermark.WarningTag, watermark.Delimiter) {
		errs = append(errs, fmt.Errorf("watermark.warning_tag must not contain %q", watermark.Delimiter))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be one of: text, json"))
	}
	switch c.Store.Backend {
	case "none":
	case "localfs":
		if c.Store.LocalFSDir == "" {
			errs = append(errs, fmt.Errorf("store.localfs_dir is required for the localfs backend"))
		}
	case "grpc":
		if c.Store.GRPCTarget == "" {
			errs = append(errs, fmt.Errorf("store.grpc_target is required for the grpc backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of: none, localfs, grpc"))
	}
	names := map[string]bool{"primary": true}
	for i, r := range c.Store.Replicas {
		switch {
		case c.Store.Backend == "none":
			errs = append(errs, fmt.Errorf("store.replicas requires a primary store.backend"))
		case r.Name == "" || names[r.Name]:
			errs = append(errs, fmt.Errorf("store.replicas[%d].name must be unique and non-empty", i))
		case r.Backend == "localfs" && r.LocalFSDir == "":
			errs = append(errs, fmt.Errorf("store.replicas[%d].localfs_dir is required", i))
		case r.Backend == "grpc" && r.GRPCTarget == "":
			errs = append(errs, fmt.Errorf("store.replicas[%d].grpc_target is required", i))
		case r.Backend != "localfs" && r.Backend != "grpc":
			errs = append(errs, fmt.Errorf("store.replicas[%d].backend must be one of: localfs, grpc", i))
		}
		names[r.Name] = true
	}
	if c.Store.Timeout < 0 {
		errs = append(errs, fmt.Errorf("store.timeout must not be negative"))
	}

	if len(errs) > 0 {
		return faults.Wrap(faults.KindValidation, "FG-CFG-003", "invalid config", errors.Join(errs...))
	}
	return nil
}

// ResolveSecret returns the server secret from secret_file or secret_env.
func (c *Config) ResolveSecret() ([]byte, error) {
	if c.SecretFile != "" {
		return keys.LoadSecretFile(c.SecretFile)
	}
	v := os.Getenv(c.SecretEnv)
	if v == "" {
		return nil, faults.New(faults.KindSigningUnavailable, "FG-CFG-010",
			fmt.Sprintf("server secret not set; export %s", c.SecretEnv))
	}
	return []byte(v), nil
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	return level, nil
}
