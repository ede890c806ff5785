// Package monitor implements the heartbeat/latency Monitor: a flat
// registration table filled by direct Register calls (there are no
// Register/Registered messages and no recursion through parents),
// periodic Ping ticks, running per-actor latency statistics, a TCP report
// stream, prometheus metrics registered on a caller-supplied Registerer
// (no HTTP endpoint is served here), and an in-memory buntdb snapshot
// index for ad hoc queries over the current table.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package monitor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/nasarace/race-go/cmn/cos"
	"github.com/nasarace/race-go/cmn/nlog"
	"github.com/nasarace/race-go/hk"
	"github.com/nasarace/race-go/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/buntdb"
)

// LatencyStats is a running min/max/mean/sigma accumulator over
// nanosecond latency samples, using Welford's online algorithm so no
// sample history needs to be retained.
type LatencyStats struct {
	Count int64
	Min   int64
	Max   int64
	mean  float64
	m2    float64
}

func (s *LatencyStats) observe(sampleNs int64) {
	if sampleNs < 0 {
		sampleNs = 0 // latency samples are non-negative
	}
	s.Count++
	if s.Count == 1 || sampleNs < s.Min {
		s.Min = sampleNs
	}
	if s.Count == 1 || sampleNs > s.Max {
		s.Max = sampleNs
	}
	delta := float64(sampleNs) - s.mean
	s.mean += delta / float64(s.Count)
	delta2 := float64(sampleNs) - s.mean
	s.m2 += delta * delta2
}

func (s *LatencyStats) Mean() float64 { return s.mean }

func (s *LatencyStats) Sigma() float64 {
	if s.Count < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.Count))
}

// ActorStats is the flat per-actor record the registrar maintains.
type ActorStats struct {
	Path          string
	Level         int
	HeartBeat     int64
	PingTimestamp int64
	LastLatency   LatencyStats
	MsgCount      int64
	Unresponsive  bool

	lastPingSent time.Time
}

// SendFunc dispatches a directed message to the actor at path (typically
// actor.Kernel.Tell); the monitor has no actor directory of its own.
type SendFunc func(path string, msg any, sender string)

// Monitor is the process-wide (per-universe) heartbeat/latency tracker.
type Monitor struct {
	path     string
	send     SendFunc
	interval time.Duration
	log      *nlog.Logger

	mu        sync.Mutex
	table     map[string]*ActorStats
	heartBeat int64

	db *buntdb.DB

	reportMu    sync.Mutex
	reportConns []net.Conn
	reportLn    net.Listener

	latencyHist prometheus.Histogram
	unresponsiveGauge prometheus.Gauge
}

func New(path string, send SendFunc, interval time.Duration, reg prometheus.Registerer) *Monitor {
	db, _ := buntdb.Open(":memory:")
	m := &Monitor{
		path:     path,
		send:     send,
		interval: interval,
		log:      nlog.New(path),
		table:    make(map[string]*ActorStats),
		db:       db,
		latencyHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "race_actor_heartbeat_latency_seconds",
			Help:    "Round-trip Ping/Pong latency observed by the monitor.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		unresponsiveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "race_actor_unresponsive_count",
			Help: "Number of actors currently marked unresponsive.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.latencyHist, m.unresponsiveGauge)
	}
	return m
}

// Register adds path to the flat table; the caller registers each actor
// to be monitored, children are not registered automatically.
// ownQueryPath is simply path in this flat model.
func (m *Monitor) Register(path string, level int) (ownQueryPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.table[path]; ok {
		return path
	}
	m.table[path] = &ActorStats{Path: path, Level: level}
	return path
}

func (m *Monitor) Unregister(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.table, path)
}

// Start launches the periodic tick via hk, self-re-arming every
// interval. Returns a stop function.
func (m *Monitor) Start() (stop func()) {
	if m.interval <= 0 {
		return func() {} // heartbeat-interval == 0 disables the monitor
	}
	name := m.path + ".monitor" + hk.NameSuffix
	hk.Reg(name, m.tick, m.interval)
	return func() { hk.Unreg(name) }
}

func (m *Monitor) tick() time.Duration {
	m.mu.Lock()
	m.heartBeat++
	hb := m.heartBeat
	unresponsive := 0
	var toPing []string
	for _, s := range m.table {
		if hb > 1 && s.HeartBeat < hb-1 {
			s.Unresponsive = true
		}
		if s.Unresponsive {
			unresponsive++
			continue
		}
		toPing = append(toPing, s.Path)
		s.lastPingSent = time.Now()
	}
	m.unresponsiveGauge.Set(float64(unresponsive))
	now := time.Now().UnixMilli()
	m.mu.Unlock()

	for _, path := range toPing {
		m.send(path, wire.Ping{HeartBeat: hb, TPing: now}, m.path)
	}
	m.snapshot()
	m.renderReport()
	return m.interval
}

// HandlePong updates latencyStats, msgCount, and clears unresponsive for
// the replying actor.
func (m *Monitor) HandlePong(path string, pong wire.Pong) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.table[path]
	if !ok {
		return
	}
	if pong.HeartBeat > m.heartBeat {
		// A Pong(hb) must satisfy hb <= currentHeartBeat; an out-of-range
		// reply is logged and otherwise ignored.
		m.log.Warningf("actor %s returned future heartbeat %d > current %d", path, pong.HeartBeat, m.heartBeat)
		return
	}
	s.HeartBeat = pong.HeartBeat
	s.MsgCount = pong.MsgCount
	s.Unresponsive = false
	if !s.lastPingSent.IsZero() {
		latency := time.Since(s.lastPingSent).Nanoseconds()
		s.LastLatency.observe(latency)
		m.latencyHist.Observe(float64(latency) / 1e9)
	}
	s.PingTimestamp = time.Now().UnixMilli()
}

func (s *ActorStats) Count() int64 { return s.LastLatency.Count }

// Snapshot returns a defensive copy of the current flat table.
func (m *Monitor) Snapshot() []ActorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActorStats, 0, len(m.table))
	for _, s := range m.table {
		out = append(out, *s)
	}
	return out
}

// snapshot persists the current table into the in-memory buntdb index so
// external tooling (or tests) can query by path without holding the
// monitor's own mutex.
func (m *Monitor) snapshot() {
	entries := m.Snapshot()
	_ = m.db.Update(func(tx *buntdb.Tx) error {
		for _, s := range entries {
			b, err := json.Marshal(s)
			if err != nil {
				continue
			}
			if _, _, err := tx.Set(s.Path, string(b), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// Lookup queries the buntdb snapshot index directly, independent of the
// live table's lock.
func (m *Monitor) Lookup(path string) (ActorStats, bool) {
	var out ActorStats
	found := false
	_ = m.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(path)
		if err != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			found = true
		}
		return nil
	})
	return out, found
}

// ListenReport opens the TCP report stream on port: each connected
// consumer receives a rendered table on every tick.
func (m *Monitor) ListenReport(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	m.reportLn = ln
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			m.reportMu.Lock()
			m.reportConns = append(m.reportConns, conn)
			m.reportMu.Unlock()
		}
	}()
	return nil
}

func (m *Monitor) CloseReport() {
	if m.reportLn != nil {
		m.reportLn.Close()
	}
	m.reportMu.Lock()
	for _, c := range m.reportConns {
		c.Close()
	}
	m.reportConns = nil
	m.reportMu.Unlock()
}

func (m *Monitor) renderReport() {
	m.reportMu.Lock()
	defer m.reportMu.Unlock()
	if len(m.reportConns) == 0 {
		return
	}
	entries := m.Snapshot()
	alive := m.reportConns[:0]
	for _, c := range m.reportConns {
		w := bufio.NewWriter(c)
		for _, s := range entries {
			fmt.Fprintf(w, "%s\tlevel=%d\thb=%d\tmsgs=%d\tunresponsive=%v\tmean_ns=%.0f\tsigma_ns=%.0f\n",
				s.Path, s.Level, s.HeartBeat, s.MsgCount, s.Unresponsive, s.LastLatency.Mean(), s.LastLatency.Sigma())
		}
		if err := w.Flush(); err != nil {
			continue
		}
		alive = append(alive, c)
	}
	m.reportConns = alive
}

// RandomReportToken is a short opaque token handed to newly connected
// report consumers for session correlation in logs.
func RandomReportToken() string { return cos.GenUUID() }
