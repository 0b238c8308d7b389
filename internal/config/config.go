// Package config holds the process-wide settings for the streaming cache
// server and client, populated from CLI flags at bootstrap (see
// cmd/streamcache-server and cmd/streamcache-client). Mirrors the shape of
// a settings struct filled once at startup and passed explicitly from then
// on - no package-level mutable singleton.
package config

import (
	"flag"
	"time"

	units "github.com/docker/go-units"

	"github.com/launix-de/streamcache/internal/mmapfile"
)

const (
	// MaxCacheSize mirrors mmapfile.MaxCacheSize for flag help text only;
	// the mmap layer itself owns the authoritative bound.
	MaxCacheSize = mmapfile.MaxCacheSize

	// DefaultBufferSize is the BufferPool entry size (§4.2).
	DefaultBufferSize = 64 * 1024
	// DefaultPoolCapacity is the BufferPool entry count (§4.2).
	DefaultPoolCapacity = 100

	// DefaultStreamTTL is the GC sweep age threshold (§3 lifecycle, §4.4).
	DefaultStreamTTL = 24 * time.Hour

	// DefaultGetTimeout is the client driver's recommended per-GET timeout (§5).
	DefaultGetTimeout = 5000 * time.Millisecond
	// DefaultGetRetries is the client driver's recommended retry ceiling (§5).
	DefaultGetRetries = 3
	// DefaultChunkSize is the recommended upload chunk size (§4.7).
	DefaultChunkSize = 8 * 1024
)

// ServerConfig is the bootstrap configuration for cmd/streamcache-server (§6).
type ServerConfig struct {
	Port        int
	Path        string
	CacheDir    string
	StreamTTL   time.Duration
	GCInterval  time.Duration
	BufferSize  int
	PoolSize    int
	Verbose     bool
}

// DefaultServerConfig mirrors the CLI defaults named in §6.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:       8080,
		Path:       "/audio",
		CacheDir:   "cache",
		StreamTTL:  DefaultStreamTTL,
		GCInterval: time.Hour,
		BufferSize: DefaultBufferSize,
		PoolSize:   DefaultPoolCapacity,
	}
}

// ParseServerFlags parses args (normally os.Args[1:]) into a ServerConfig.
func ParseServerFlags(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	var maxCacheSize, ttl, gcInterval string

	fs.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on")
	fs.StringVar(&cfg.Path, "path", cfg.Path, "HTTP path to upgrade to WebSocket on")
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "directory backing stream files")
	fs.StringVar(&ttl, "stream-ttl", cfg.StreamTTL.String(), "age after which an idle stream is garbage collected (e.g. 24h)")
	fs.StringVar(&gcInterval, "gc-interval", cfg.GCInterval.String(), "how often the GC sweep runs")
	fs.StringVar(&maxCacheSize, "max-cache-size", units.BytesSize(float64(MaxCacheSize)), "informational: rejected hard ceiling per stream")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "BufferPool entry size in bytes")
	fs.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "BufferPool entry count")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}

	if d, err := time.ParseDuration(ttl); err == nil {
		cfg.StreamTTL = d
	}
	if d, err := time.ParseDuration(gcInterval); err == nil {
		cfg.GCInterval = d
	}

	return cfg, nil
}

// ClientConfig is the bootstrap configuration for cmd/streamcache-client (§4.7, §6).
type ClientConfig struct {
	Server     string
	Input      string
	Output     string
	StreamID   string
	ChunkSize  int
	GetSize    int
	GetTimeout time.Duration
	GetRetries int
	Verbose    bool
}

// DefaultClientConfig mirrors the client defaults named in §4.7/§5/§6.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ChunkSize:  DefaultChunkSize,
		GetSize:    DefaultChunkSize,
		GetTimeout: DefaultGetTimeout,
		GetRetries: DefaultGetRetries,
	}
}

// ParseClientFlags parses args into a ClientConfig.
func ParseClientFlags(fs *flag.FlagSet, args []string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	var chunkSize, getSize, timeout string

	fs.StringVar(&cfg.Server, "server", "", "WebSocket server URI, e.g. ws://localhost:8080/audio")
	fs.StringVar(&cfg.Input, "input", "", "file to upload (upload mode)")
	fs.StringVar(&cfg.Output, "output", "", "file to write downloaded bytes to; setting it selects download mode (no default)")
	fs.StringVar(&cfg.StreamID, "stream-id", "", "streamId to fetch in download mode; ignored in upload mode (a fresh id is generated)")
	fs.StringVar(&chunkSize, "chunk-size", units.BytesSize(float64(cfg.ChunkSize)), "upload chunk size")
	fs.StringVar(&getSize, "get-size", units.BytesSize(float64(cfg.GetSize)), "bytes requested per GET")
	fs.StringVar(&timeout, "get-timeout", cfg.GetTimeout.String(), "per-GET timeout")
	fs.IntVar(&cfg.GetRetries, "get-retries", cfg.GetRetries, "max retries per GET")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}

	if n, err := units.RAMInBytes(chunkSize); err == nil {
		cfg.ChunkSize = int(n)
	}
	if n, err := units.RAMInBytes(getSize); err == nil {
		cfg.GetSize = int(n)
	}
	if d, err := time.ParseDuration(timeout); err == nil {
		cfg.GetTimeout = d
	}

	return cfg, nil
}
