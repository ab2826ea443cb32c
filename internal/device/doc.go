// Package device discovers GPU render nodes through udev and resolves the
// device list training shards across. Discovery failures degrade to a single
// synthetic device rather than aborting the run.
package device
