// Package dataset defines the batch loader contract consumed by the epoch
// drivers and a seeded synthetic generator used for development runs and
// tests. Real video decoding lives behind the same contract and is out of
// scope here.
package dataset
