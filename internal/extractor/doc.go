// Package extractor provides the reference feature extractors: a pooled
// channel-statistics spatial stream and a frame-difference temporal stream.
// Both satisfy the model contracts, expose their parameters for optimization,
// and consume loss gradients through the backprop interfaces.
package extractor
