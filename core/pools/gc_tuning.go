package pools

import (
	"runtime"
	"runtime/debug"
	"time"
)

// GCConfig holds GC tuning parameters applied at server start
type GCConfig struct {
	// GCPercent is the GOGC target; 0 leaves the runtime default
	GCPercent int

	// MemoryLimit is a soft limit in bytes; 0 means no limit
	MemoryLimit int64
}

// ApplyGCConfig applies cfg and returns the settings it replaced
func ApplyGCConfig(cfg GCConfig) GCConfig {
	var prev GCConfig
	if cfg.GCPercent > 0 {
		prev.GCPercent = debug.SetGCPercent(cfg.GCPercent)
	}
	if cfg.MemoryLimit > 0 {
		prev.MemoryLimit = debug.SetMemoryLimit(cfg.MemoryLimit)
	}
	return prev
}

// GCStats holds garbage collection statistics
type GCStats struct {
	NumGC        uint32
	PauseTotal   time.Duration
	LastPause    time.Duration
	AvgPause     time.Duration
	AllocBytes   uint64
	TotalAlloc   uint64
	Sys          uint64
	NumGoroutine int
}

// GetGCStats returns current GC statistics
func GetGCStats() GCStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := GCStats{
		NumGC:        ms.NumGC,
		PauseTotal:   time.Duration(ms.PauseTotalNs),
		AllocBytes:   ms.Alloc,
		TotalAlloc:   ms.TotalAlloc,
		Sys:          ms.Sys,
		NumGoroutine: runtime.NumGoroutine(),
	}

	if ms.NumGC > 0 {
		stats.LastPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256])
		stats.AvgPause = stats.PauseTotal / time.Duration(ms.NumGC)
	}

	return stats
}
