package testsupport

import (
	"path/filepath"
	"testing"

	"veritect/internal/config"
)

// NewConfig produces a config seeded with unique temp directories per test
// and dimensions small enough for fast numeric tests.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Training.Epochs = 10
	cfg.Training.BatchSize = 2
	cfg.Training.FeatureDim = 8
	cfg.Training.HiddenDim = 16
	cfg.Training.FrameCount = 6
	cfg.Dataset.TrainVideos = 8
	cfg.Dataset.ValVideos = 4
	cfg.Dataset.FrameHeight = 4
	cfg.Dataset.FrameWidth = 4

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}
