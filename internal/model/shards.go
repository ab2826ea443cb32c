package model

// ShardRange assigns a contiguous frame range [Start, End) to one device.
type ShardRange struct {
	Device string
	Start  int
	End    int
}

// Frames returns the number of frames in the shard.
func (s ShardRange) Frames() int { return s.End - s.Start }

// PlanShards partitions the temporal axis across the given devices. The
// first frames%len(devices) shards receive one extra frame, so shard sizes
// are either ceil(frames/G) or floor(frames/G). Devices that would receive
// zero frames are skipped entirely.
func PlanShards(frames int, devices []string) []ShardRange {
	if frames <= 0 || len(devices) == 0 {
		return nil
	}
	base := frames / len(devices)
	remainder := frames % len(devices)

	shards := make([]ShardRange, 0, len(devices))
	start := 0
	for i, device := range devices {
		size := base
		if i < remainder {
			size++
		}
		if size <= 0 {
			continue
		}
		shards = append(shards, ShardRange{Device: device, Start: start, End: start + size})
		start += size
	}
	return shards
}
