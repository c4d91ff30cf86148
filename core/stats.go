package core

import (
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"github.com/searchktools/wirehttp/core/pools"
)

// Stats counts connection lifecycle events of one server
type Stats struct {
	accepted atomic.Uint64
	rejected atomic.Uint64
	active   atomic.Int64
	requests atomic.Uint64
	closes   [numReasons]atomic.Uint64
}

func (s *Stats) onAccept() {
	s.accepted.Add(1)
	s.active.Add(1)
}

func (s *Stats) onReject() {
	s.rejected.Add(1)
}

func (s *Stats) onClose(c *Connection) {
	s.active.Add(-1)
	s.requests.Add(uint64(c.requests))
	s.closes[c.reason].Add(1)
}

// StatsSnapshot is a point-in-time copy of server counters
type StatsSnapshot struct {
	Scheduler string            `json:"scheduler"`
	Accepted  uint64            `json:"accepted"`
	Rejected  uint64            `json:"rejected"`
	Active    int64             `json:"active"`
	Requests  uint64            `json:"requests_on_closed"`
	Closes    map[string]uint64 `json:"closes"`

	Buffers     pools.BytePoolStats    `json:"buffers"`
	Connections pools.ObjectPoolStats  `json:"connections"`
	Workers     *pools.WorkerPoolStats `json:"workers,omitempty"`
	GC          pools.GCStats          `json:"gc"`
}

func (s *Stats) snapshot(scheduler string, buffers *pools.BytePool) StatsSnapshot {
	snap := StatsSnapshot{
		Scheduler: scheduler,
		Accepted:  s.accepted.Load(),
		Rejected:  s.rejected.Load(),
		Active:    s.active.Load(),
		Requests:  s.requests.Load(),
		Closes:    make(map[string]uint64),
		Buffers:   buffers.Stats(),
		GC:        pools.GetGCStats(),
	}
	for r := CloseReason(0); r < numReasons; r++ {
		if n := s.closes[r].Load(); n > 0 {
			snap.Closes[r.String()] = n
		}
	}
	return snap
}

// JSON renders the snapshot with indentation
func (s StatsSnapshot) JSON() string {
	data, _ := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(s, "", "  ")
	return string(data)
}
