package cache

import "github.com/prometheus/client_golang/prometheus"

// Stats is a point-in-time snapshot for the HTTP API.
type Stats struct {
	Entries       int   `json:"entries"`
	Bytes         int64 `json:"bytes"`
	MaxTotalBytes int64 `json:"max_total_bytes"`
	MaxEntryBytes int64 `json:"max_entry_bytes"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Inserts       int64 `json:"inserts"`
	Evictions     int64 `json:"evictions"`
}

func (c *Cache) Stats() Stats {
	return Stats{
		Entries:       c.Len(),
		Bytes:         c.Bytes(),
		MaxTotalBytes: c.cfg.MaxTotalBytes,
		MaxEntryBytes: c.cfg.MaxEntryBytes,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Inserts:       c.inserts.Load(),
		Evictions:     c.evictions.Load(),
	}
}

// Collectors returns the prometheus collectors of this cache, to be
// registered on the program registry.
func (c *Cache) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "proxyd_cache_hits_total",
			Help: "Number of cache lookups served from memory.",
		}, func() float64 { return float64(c.hits.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "proxyd_cache_misses_total",
			Help: "Number of cache lookups that went to the origin.",
		}, func() float64 { return float64(c.misses.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "proxyd_cache_inserts_total",
			Help: "Number of responses stored.",
		}, func() float64 { return float64(c.inserts.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "proxyd_cache_evictions_total",
			Help: "Number of entries evicted to reclaim space.",
		}, func() float64 { return float64(c.evictions.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "proxyd_cache_entries",
			Help: "Live cache entries.",
		}, func() float64 { return float64(c.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "proxyd_cache_bytes",
			Help: "Sum of stored payload sizes.",
		}, func() float64 { return float64(c.Bytes()) }),
	}
}
