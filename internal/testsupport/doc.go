// Package testsupport provides shared helpers for tests: config builders and
// fake extractors, optimizers, and loaders with scriptable behavior.
package testsupport
