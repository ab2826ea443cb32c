package training

import "veritect/internal/extractor"

// FineTuneThreshold is the training progress at which the frozen extractor
// blocks are unfrozen for fine-tuning.
const FineTuneThreshold = 0.7

// FineTuneGroups returns the parameter groups to unfreeze at the given epoch,
// or nil while the schedule is still in the frozen stage.
func FineTuneGroups(epoch, maxEpochs int) []string {
	if maxEpochs <= 0 {
		return nil
	}
	if float64(epoch)/float64(maxEpochs) < FineTuneThreshold {
		return nil
	}
	return []string{extractor.GroupSpatialFinal, extractor.GroupTemporalBackbone}
}
