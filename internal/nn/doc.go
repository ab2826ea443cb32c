// Package nn provides the small neural-network substrate used by the
// detector head and the reference feature extractors: flat-slice parameters,
// linear layers with analytic gradients, inverted dropout, and an Adam
// optimizer with a cosine learning-rate schedule.
package nn
