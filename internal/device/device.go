package device

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pilebones/go-udev/crawler"
	"github.com/pilebones/go-udev/netlink"

	"veritect/internal/logging"
)

// FallbackDevice is used when no render nodes are discoverable.
const FallbackDevice = "cpu"

// Discover scans udev for DRM render nodes and returns their device paths in
// stable order. An empty slice means nothing was found before the timeout;
// the caller decides the fallback via Resolve.
func Discover(logger *slog.Logger, timeout time.Duration) []string {
	log := logging.NewComponentLogger(logger, "device-discovery")

	queue := make(chan crawler.Device)
	errs := make(chan error)
	quit := crawler.ExistingDevices(queue, errs, renderNodeMatcher())
	defer close(quit)

	deadline := time.After(timeout)
	seen := map[string]bool{}
	for {
		select {
		case dev, ok := <-queue:
			if !ok {
				return sorted(seen)
			}
			if name := dev.Env["DEVNAME"]; name != "" && !seen[name] {
				seen[name] = true
				log.Debug("render node found", logging.String(logging.FieldDevice, name))
			}
		case err := <-errs:
			log.Warn("udev crawl error; continuing with devices found so far", logging.Error(err))
			return sorted(seen)
		case <-deadline:
			log.Warn("udev crawl timed out", logging.Duration("timeout", timeout))
			return sorted(seen)
		}
	}
}

// Resolve turns a requested shard count and the discovered nodes into the
// final device list. A non-positive request uses every discovered node. When
// discovery came up empty, requests are satisfied with synthetic placement
// labels so sharding still behaves as configured.
func Resolve(requested int, discovered []string) []string {
	if len(discovered) == 0 {
		if requested <= 1 {
			return []string{FallbackDevice}
		}
		names := make([]string, requested)
		for i := range names {
			names[i] = fmt.Sprintf("%s:%d", FallbackDevice, i)
		}
		return names
	}
	if requested <= 0 || requested >= len(discovered) {
		return append([]string{}, discovered...)
	}
	return append([]string{}, discovered[:requested]...)
}

// renderNodeMatcher matches DRM render nodes (/dev/dri/renderD*).
func renderNodeMatcher() netlink.Matcher {
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Env: map[string]string{
			"SUBSYSTEM": "drm",
			"DEVNAME":   `dri/renderD\d+`,
		},
	})
	return rules
}

func sorted(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
