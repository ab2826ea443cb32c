package config

const (
	defaultDataDir      = "~/.local/share/veritect/data"
	defaultOutputDir    = "~/.local/share/veritect/output"
	defaultLogDir       = "~/.local/share/veritect/logs"
	defaultEpochs       = 50
	defaultBatchSize    = 4
	defaultAccumSteps   = 2
	defaultLearningRate = 1e-4
	defaultMinLR        = 1e-6
	defaultWeightDecay  = 1e-4
	defaultFeatureDim   = 128
	defaultHiddenDim    = 256
	defaultFrameCount   = 30
	defaultDropout      = 0.5
	defaultSeed         = 42
	defaultCriterion    = "focal"
	defaultFocalAlpha   = 0.75
	defaultFocalGamma   = 1.0
	defaultDatasetKind  = "synthetic"
	defaultTrainVideos  = 64
	defaultValVideos    = 16
	defaultChannels     = 3
	defaultFrameHeight  = 224
	defaultFrameWidth   = 224
	defaultLogLevel     = "info"
	defaultLogFormat    = "console"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Training: Training{
			Epochs:       defaultEpochs,
			BatchSize:    defaultBatchSize,
			AccumSteps:   defaultAccumSteps,
			LearningRate: defaultLearningRate,
			MinLR:        defaultMinLR,
			WeightDecay:  defaultWeightDecay,
			FeatureDim:   defaultFeatureDim,
			HiddenDim:    defaultHiddenDim,
			FrameCount:   defaultFrameCount,
			Dropout:      defaultDropout,
			Seed:         defaultSeed,
		},
		Loss: Loss{
			Criterion:  defaultCriterion,
			FocalAlpha: defaultFocalAlpha,
			FocalGamma: defaultFocalGamma,
		},
		Dataset: Dataset{
			Kind:        defaultDatasetKind,
			TrainVideos: defaultTrainVideos,
			ValVideos:   defaultValVideos,
			Channels:    defaultChannels,
			FrameHeight: defaultFrameHeight,
			FrameWidth:  defaultFrameWidth,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
