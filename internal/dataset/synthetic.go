package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"veritect/internal/model"
)

// SyntheticOptions shape the generated dataset. Half the videos are real,
// half fake (the extra video of an odd count is fake).
type SyntheticOptions struct {
	Videos    int
	BatchSize int
	Frames    int
	Channels  int
	Height    int
	Width     int
	Seed      int64
	Shuffle   bool
}

// Synthetic generates deterministic video batches. Real videos vary smoothly
// over time; fake videos carry abrupt per-frame perturbations on a random
// subset of frames, which gives the temporal stream a real signal to find.
type Synthetic struct {
	opts  SyntheticOptions
	order []int
	rng   *rand.Rand
	next  int
}

// NewSynthetic validates options and builds the loader.
func NewSynthetic(opts SyntheticOptions) (*Synthetic, error) {
	if opts.Videos <= 0 || opts.BatchSize <= 0 {
		return nil, fmt.Errorf("synthetic dataset needs positive videos and batch size")
	}
	if opts.Frames <= 1 || opts.Channels <= 0 || opts.Height <= 0 || opts.Width <= 0 {
		return nil, fmt.Errorf("synthetic dataset needs at least 2 frames and positive dimensions")
	}
	s := &Synthetic{opts: opts}
	s.Reset()
	return s, nil
}

func (s *Synthetic) NumVideos() int { return s.opts.Videos }

func (s *Synthetic) NumBatches() int {
	return (s.opts.Videos + s.opts.BatchSize - 1) / s.opts.BatchSize
}

// Reset rewinds the loader and reshuffles (when enabled) with a fresh stream
// derived from the seed, so every epoch sees the same videos in a new order.
func (s *Synthetic) Reset() {
	s.rng = rand.New(rand.NewSource(s.opts.Seed))
	s.order = make([]int, s.opts.Videos)
	for i := range s.order {
		s.order[i] = i
	}
	if s.opts.Shuffle {
		s.rng.Shuffle(len(s.order), func(i, j int) {
			s.order[i], s.order[j] = s.order[j], s.order[i]
		})
	}
	s.next = 0
}

// Next materializes the next batch, or returns (nil, nil) at the end.
func (s *Synthetic) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= s.opts.Videos {
		return nil, nil
	}
	end := s.next + s.opts.BatchSize
	if end > s.opts.Videos {
		end = s.opts.Videos
	}
	ids := s.order[s.next:end]
	s.next = end

	frames := model.NewFrameBatch(len(ids), s.opts.Frames, s.opts.Channels, s.opts.Height, s.opts.Width)
	labels := make([]int, len(ids))
	for slot, id := range ids {
		labels[slot] = s.labelFor(id)
		s.renderVideo(frames, slot, id, labels[slot])
	}
	return &Batch{Frames: frames, Labels: labels}, nil
}

// labelFor assigns the first half of the id space to real videos.
func (s *Synthetic) labelFor(id int) int {
	if id < s.opts.Videos/2 {
		return LabelReal
	}
	return LabelFake
}

func (s *Synthetic) renderVideo(frames model.FrameBatch, slot, id, label int) {
	// Per-video generator keyed by seed and id keeps content independent of
	// the shuffled visit order.
	rng := rand.New(rand.NewSource(s.opts.Seed*1_000_003 + int64(id)))
	base := rng.Float64()
	freq := 0.5 + rng.Float64()

	perturbed := map[int]float64{}
	if label == LabelFake {
		count := 1 + rng.Intn(s.opts.Frames/2)
		for i := 0; i < count; i++ {
			perturbed[rng.Intn(s.opts.Frames)] = 0.5 + rng.Float64()
		}
	}

	for t := 0; t < s.opts.Frames; t++ {
		level := base + 0.2*math.Sin(freq*float64(t))
		jump := perturbed[t]
		frame := frames.Frame(slot, t)
		for i := range frame {
			frame[i] = float32(level + jump + 0.01*rng.NormFloat64())
		}
	}
}
