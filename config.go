package ovio

import (
	jsoniter "github.com/json-iterator/go"
)

var configAPI = jsoniter.Config{SortMapKeys: true}.Froze()

// ReactorConfig bounds reactor capacity. Zero fields fall back to a
// minimal default, clamped to the process's open-file ulimit by the
// reactor itself.
type ReactorConfig struct {
	MaxSockets int `json:"max.sockets"`
	MaxTimers  int `json:"max.timers"`
}

// CacheConfig controls whether the process-wide buffer cache is active
// and any non-default capacities by name.
type CacheConfig struct {
	EnableCaching bool           `json:"enable_caching"`
	CacheSizes    map[string]int `json:"cache_sizes"`
}

// RTPConfig configures the jitter buffer and its socket adapter.
type RTPConfig struct {
	FramesToBufferPerStream int `json:"num_frames_to_buffer_per_stream"`
}

// BridgeConfig configures the session bridge's request timeout.
type BridgeConfig struct {
	ResponseTimeoutUsec int64 `json:"timeout.response_usec"`
}

// SocketConfig names one listening or connecting endpoint.
type SocketConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Type string `json:"type"` // "TCP" | "UDP" | "LOCAL"
}

// Config is the top-level, JSON-decoded process configuration.
type Config struct {
	Reactor ReactorConfig `json:"reactor"`
	Cache   CacheConfig   `json:"cache"`
	RTP     RTPConfig     `json:"rtp"`
	Bridge  BridgeConfig  `json:"bridge"`
	Socket  SocketConfig  `json:"socket"`
}

// DefaultConfig returns the documented defaults: 3 frames buffered per
// stream, a 10s bridge response timeout, and caching enabled.
func DefaultConfig() Config {
	return Config{
		RTP:    RTPConfig{FramesToBufferPerStream: 3},
		Bridge: BridgeConfig{ResponseTimeoutUsec: 10_000_000},
		Cache:  CacheConfig{EnableCaching: true},
	}
}

// ParseConfig decodes a JSON document into Config, starting from
// DefaultConfig so an absent field keeps its documented default.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := configAPI.Unmarshal(data, &cfg); err != nil {
		return Config{}, WrapError("config.ParseConfig", err)
	}
	return cfg, nil
}
