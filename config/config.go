// Package config holds the per-universe configuration, read once at
// construction: timeouts for each lifecycle phase, heartbeat interval,
// clock tolerance, and scheduled start/end. A single struct with
// jsoniter-backed (de)serialization rather than a generic key/value
// store, since the settings are a small, fixed, documented set.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package config

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is one universe's environment-like configuration.
type Config struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"` // 0 disables the monitor
	MonitorPort       int          `json:"monitor_port,omitempty"`

	CreateTimeout    time.Duration `json:"create_timeout"`
	InitTimeout      time.Duration `json:"init_timeout"`
	StartTimeout     time.Duration `json:"start_timeout"`
	TerminateTimeout time.Duration `json:"terminate_timeout"`
	SystemTimeout    time.Duration `json:"system_timeout"`
	ActorTimeout     time.Duration `json:"actor_timeout"`

	RemoteTermination bool `json:"remote_termination"`
	SelfTermination   bool `json:"self_termination"`
	AllowFutureReset  bool `json:"allow_future_reset"`

	MaxClockDiff time.Duration `json:"max_clock_diff"`

	StartAt  *time.Time     `json:"start_at,omitempty"`
	StartIn  *time.Duration `json:"start_in,omitempty"`
	EndTime  *time.Time     `json:"end_time,omitempty"`
	RunFor   *time.Duration `json:"run_for,omitempty"`

	TimeScale float64 `json:"time_scale"`
}

// Default returns a Config with conservative defaults matching what a
// single-process test universe would use.
func Default() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		CreateTimeout:     10 * time.Second,
		InitTimeout:       10 * time.Second,
		StartTimeout:      10 * time.Second,
		TerminateTimeout:  5 * time.Second,
		SystemTimeout:     3 * time.Second,
		ActorTimeout:      3 * time.Second,
		RemoteTermination: false,
		SelfTermination:   true,
		AllowFutureReset:  false,
		MaxClockDiff:      time.Second,
		TimeScale:         1.0,
	}
}

// Marshal/Unmarshal support dumping and test fixtures via jsoniter, a
// drop-in faster encoding/json replacement.
func Marshal(c Config) ([]byte, error)      { return json.Marshal(c) }
func Unmarshal(b []byte, c *Config) error   { return json.Unmarshal(b, c) }
