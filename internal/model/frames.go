package model

import "fmt"

// FrameBatch holds an ordered sequence of videos, each an ordered sequence of
// frames, stored as one contiguous float32 buffer in [video][frame][channel]
// [row][col] order. All videos in a batch share the same frame geometry.
type FrameBatch struct {
	Data     []float32
	Videos   int
	Frames   int
	Channels int
	Height   int
	Width    int
}

// NewFrameBatch allocates a zeroed batch with the given shape.
func NewFrameBatch(videos, frames, channels, height, width int) FrameBatch {
	return FrameBatch{
		Data:     make([]float32, videos*frames*channels*height*width),
		Videos:   videos,
		Frames:   frames,
		Channels: channels,
		Height:   height,
		Width:    width,
	}
}

// Validate checks internal consistency of the batch shape.
func (b FrameBatch) Validate() error {
	if b.Videos <= 0 || b.Frames <= 0 {
		return ErrEmptyBatch
	}
	if b.Channels <= 0 || b.Height <= 0 || b.Width <= 0 {
		return fmt.Errorf("%w: non-positive frame dimensions", ErrShapeMismatch)
	}
	expected := b.Videos * b.Frames * b.FrameSize()
	if len(b.Data) != expected {
		return fmt.Errorf("%w: buffer holds %d values, shape needs %d", ErrShapeMismatch, len(b.Data), expected)
	}
	return nil
}

// FrameSize returns the number of values in one frame.
func (b FrameBatch) FrameSize() int { return b.Channels * b.Height * b.Width }

// Frame returns the value slice for frame t of video v. The slice aliases the
// batch buffer.
func (b FrameBatch) Frame(v, t int) []float32 {
	size := b.FrameSize()
	offset := (v*b.Frames + t) * size
	return b.Data[offset : offset+size]
}

// FrameRange copies frames [start, end) of every video into a new batch.
// The copy keeps shard extraction independent of the canonical buffer.
func (b FrameBatch) FrameRange(start, end int) (FrameBatch, error) {
	if start < 0 || end > b.Frames || start >= end {
		return FrameBatch{}, fmt.Errorf("%w: frame range [%d,%d) of %d", ErrShapeMismatch, start, end, b.Frames)
	}
	out := NewFrameBatch(b.Videos, end-start, b.Channels, b.Height, b.Width)
	size := b.FrameSize()
	for v := 0; v < b.Videos; v++ {
		srcOffset := (v*b.Frames + start) * size
		dstOffset := v * out.Frames * size
		copy(out.Data[dstOffset:dstOffset+out.Frames*size], b.Data[srcOffset:srcOffset+out.Frames*size])
	}
	return out, nil
}
