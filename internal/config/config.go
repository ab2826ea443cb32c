package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for a run.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
}

// Training contains the optimizer and schedule hyperparameters.
type Training struct {
	Epochs       int     `toml:"epochs"`
	BatchSize    int     `toml:"batch_size"`
	AccumSteps   int     `toml:"accum_steps"`
	LearningRate float64 `toml:"learning_rate"`
	MinLR        float64 `toml:"min_learning_rate"`
	WeightDecay  float64 `toml:"weight_decay"`
	FeatureDim   int     `toml:"feature_dim"`
	HiddenDim    int     `toml:"hidden_dim"`
	FrameCount   int     `toml:"frame_count"`
	Dropout      float64 `toml:"dropout"`
	Seed         int64   `toml:"seed"`
	// Devices pins the shard device count. Zero means discover at startup.
	Devices int `toml:"devices"`
}

// Loss selects and parameterizes the classification criterion.
type Loss struct {
	Criterion  string  `toml:"criterion"`
	FocalAlpha float64 `toml:"focal_alpha"`
	FocalGamma float64 `toml:"focal_gamma"`
}

// Dataset describes where training batches come from.
type Dataset struct {
	Kind        string `toml:"kind"`
	TrainVideos int    `toml:"train_videos"`
	ValVideos   int    `toml:"val_videos"`
	Channels    int    `toml:"channels"`
	FrameHeight int    `toml:"frame_height"`
	FrameWidth  int    `toml:"frame_width"`
}

// Logging controls log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Training Training `toml:"training"`
	Loss     Loss     `toml:"loss"`
	Dataset  Dataset  `toml:"dataset"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the location probed when no --config flag is given.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "veritect", "config.toml"), nil
}

// Load reads the configuration at path, or the default path when path is
// empty. A missing file yields defaults. The returned string is the path that
// was consulted and the bool reports whether a file was actually read.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", false, err
		}
		resolved = defaultPath
	}
	expanded, err := ExpandPath(resolved)
	if err != nil {
		return nil, "", false, err
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.normalize()
			if err := cfg.Validate(); err != nil {
				return nil, expanded, false, err
			}
			return &cfg, expanded, false, nil
		}
		return nil, expanded, false, fmt.Errorf("read config %s: %w", expanded, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, expanded, true, fmt.Errorf("parse config %s: %w", expanded, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, expanded, true, err
	}
	return &cfg, expanded, true, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the output and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return trimmed, nil
}

func (c *Config) normalize() {
	c.Loss.Criterion = strings.ToLower(strings.TrimSpace(c.Loss.Criterion))
	c.Dataset.Kind = strings.ToLower(strings.TrimSpace(c.Dataset.Kind))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))

	for _, dir := range []*string{&c.Paths.DataDir, &c.Paths.OutputDir, &c.Paths.LogDir} {
		if expanded, err := ExpandPath(*dir); err == nil {
			*dir = expanded
		}
	}
}
