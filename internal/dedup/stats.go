package dedup

import (
	"maps"
	"time"
)

// Stats are cumulative deduplication counters.
type Stats struct {
	TotalProcessed  int64            `json:"totalProcessed"`
	DuplicatesFound int64            `json:"duplicatesFound"`
	UniqueAlerts    int64            `json:"uniqueAlerts"`
	MergedAlerts    int64            `json:"mergedAlerts"`
	Errors          int64            `json:"errors"`
	ByStrategy      map[string]int64 `json:"byStrategy"`
	DuplicateRate   float64          `json:"duplicateRate"`
	LastRun         time.Time        `json:"lastRun,omitzero"`
	CacheSize       int              `json:"cacheSize"`
}

func newStats() Stats {
	return Stats{ByStrategy: make(map[string]int64)}
}

// Stats returns a copy of the counters.
func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.stats
	out.ByStrategy = maps.Clone(d.stats.ByStrategy)
	if out.TotalProcessed > 0 {
		out.DuplicateRate = float64(out.DuplicatesFound) / float64(out.TotalProcessed)
	}
	out.CacheSize = d.normalizer.Len()
	return out
}

// ResetStats zeroes the counters.
func (d *Deduplicator) ResetStats() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = newStats()
}
