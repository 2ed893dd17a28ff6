package web

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"tankd/internal/motor"
)

// Status collects what /api/status reports. Safe for concurrent use.
type Status struct {
	startUnixNano int64
	failures      uint64

	static atomic.Value // StaticInfo
	build  BuildInfo

	mu          sync.Mutex
	totals      map[string]uint64
	lastCommand string
	lastAt      time.Time
	lastError   string
}

// StaticInfo is fixed at startup.
type StaticInfo struct {
	Listen      string `json:"listen"`
	Backend     string `json:"pwm_backend"`
	FrequencyHz int    `json:"pwm_frequency_hz"`
	ChannelA    int    `json:"channel_a"`
	ChannelB    int    `json:"channel_b"`
	Hold        string `json:"hold"`
}

// BuildInfo is read from the binary once at startup.
type BuildInfo struct {
	GoVersion string `json:"go_version"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

func readBuildInfo() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		}
	}
	return out
}

func NewStatus() *Status {
	s := &Status{totals: make(map[string]uint64), build: readBuildInfo()}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.static.Store(StaticInfo{})
	return s
}

func (s *Status) SetStatic(info StaticInfo) {
	s.static.Store(info)
}

// Record notes a finished command.
func (s *Status) Record(cmd motor.Command, nowUTC time.Time, err error) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	if err != nil {
		atomic.AddUint64(&s.failures, 1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[cmd.String()]++
	s.lastCommand = cmd.String()
	s.lastAt = nowUTC
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
}

type StatusSnapshot struct {
	Service       string            `json:"service"`
	NowUTC        string            `json:"now_utc"`
	UptimeSec     int64             `json:"uptime_sec"`
	Static        StaticInfo        `json:"config"`
	Build         BuildInfo         `json:"build"`
	Active        string            `json:"active,omitempty"`
	LastCommand   string            `json:"last_command,omitempty"`
	LastCommandAt string            `json:"last_command_utc,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	Totals        map[string]uint64 `json:"totals"`
	FailuresTotal uint64            `json:"failures_total"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:       "tankd",
		NowUTC:        nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:     int64(nowUTC.Sub(start).Seconds()),
		Static:        s.static.Load().(StaticInfo),
		Build:         s.build,
		FailuresTotal: atomic.LoadUint64(&s.failures),
		Totals:        make(map[string]uint64, len(motor.Commands())),
	}
	for _, c := range motor.Commands() {
		snap.Totals[c.String()] = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.totals {
		snap.Totals[k] = v
	}
	snap.LastCommand = s.lastCommand
	if !s.lastAt.IsZero() {
		snap.LastCommandAt = s.lastAt.Format(time.RFC3339Nano)
	}
	snap.LastError = s.lastError
	return snap
}
