// Package model contains the deepfake detector: the contracts for the two
// opaque feature extractors, the device-sharded forward dispatcher, and the
// gated fusion and classification head.
package model
