package common

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/infinity/lib/feed"
	"github.com/ValentinKolb/infinity/lib/journal"
	"github.com/ValentinKolb/infinity/lib/mux"
	"github.com/ValentinKolb/infinity/lib/util"
	"github.com/ValentinKolb/infinity/lib/volume"
)

// File names inside the data directory
const (
	JournalFile  = "notices.jrnl"
	SnapshotFile = "heap.snap"
)

// --------------------------------------------------------------------------
// Engine configuration struct
// --------------------------------------------------------------------------

// EngineConfig holds every setting of a serving engine.
type EngineConfig struct {
	// Storage
	DataDir          string
	Journal          bool
	JournalSync      bool // fsync after every journaled notice
	Codec            util.Codec
	SnapshotInterval time.Duration

	// Volume lease, VolumeDir defaults to DataDir
	VolumeDir string
	LeaseTTL  time.Duration

	// Workers
	Workers         int
	MaxAttempts     int
	GracefulTimeout time.Duration
	ForceTimeout    time.Duration

	// Notice feed
	FeedTransport string
	FeedEndpoint  string
	FeedTimeout   time.Duration

	// Prometheus metrics, empty disables
	MetricsEndpoint string

	// Backfill source, empty disables
	SourceDSN string
	Backfill  []string

	// Logging configuration
	LogLevel string
}

// Volume returns the lease directory.
func (c *EngineConfig) Volume() string {
	if c.VolumeDir != "" {
		return c.VolumeDir
	}
	return c.DataDir
}

// JournalPath returns the path of the notice journal.
func (c *EngineConfig) JournalPath() string { return filepath.Join(c.DataDir, JournalFile) }

// DeadLetterPath returns the path of the dead-letter journal.
func (c *EngineConfig) DeadLetterPath() string {
	return filepath.Join(c.DataDir, journal.DeadLetterFile)
}

// SnapshotPath returns the path of the heap snapshot.
func (c *EngineConfig) SnapshotPath() string { return filepath.Join(c.DataDir, SnapshotFile) }

// --------------------------------------------------------------------------
// conversion to the package options
// --------------------------------------------------------------------------

// ToMuxOptions converts the worker settings. DeadLetter is left to the caller.
func (c *EngineConfig) ToMuxOptions() mux.Options {
	opts := mux.DefaultOptions()
	if c.Workers > 0 {
		opts.Workers = c.Workers
	}
	if c.MaxAttempts > 0 {
		opts.MaxAttempts = c.MaxAttempts
	}
	if c.GracefulTimeout > 0 {
		opts.GracefulTimeout = c.GracefulTimeout
	}
	if c.ForceTimeout > 0 {
		opts.ForceTimeout = c.ForceTimeout
	}
	return opts
}

// ToVolumeOptions converts the lease settings.
func (c *EngineConfig) ToVolumeOptions() volume.Options {
	opts := volume.DefaultOptions()
	if c.LeaseTTL > 0 {
		opts.TTL = c.LeaseTTL
	}
	return opts
}

// ToJournalOptions converts the journal settings.
func (c *EngineConfig) ToJournalOptions() journal.Options {
	opts := journal.DefaultOptions()
	opts.Codec = c.Codec
	opts.SyncEach = c.JournalSync
	return opts
}

// ToFeedConfig converts the feed settings.
func (c *EngineConfig) ToFeedConfig() feed.Config {
	cfg := feed.DefaultConfig(c.FeedEndpoint)
	if c.FeedTransport != "" {
		cfg.Transport = c.FeedTransport
	}
	if c.FeedTimeout > 0 {
		cfg.Timeout = c.FeedTimeout
	}
	return cfg
}

// String returns a formatted string representation of the configuration
func (c *EngineConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	orOff := func(s string) string {
		if s == "" {
			return "disabled"
		}
		return s
	}

	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("Journal", strconv.FormatBool(c.Journal))
	addField("Journal Sync", strconv.FormatBool(c.JournalSync))
	addField("Codec", c.Codec.String())
	if c.SnapshotInterval > 0 {
		addField("Snapshot Interval", c.SnapshotInterval.String())
	} else {
		addField("Snapshot Interval", "on close only")
	}

	addSection("Volume")
	addField("Directory", c.Volume())
	addField("Lease TTL", c.ToVolumeOptions().TTL.String())

	mo := c.ToMuxOptions()
	addSection("Workers")
	addField("Workers", strconv.Itoa(mo.Workers))
	addField("Max Attempts", strconv.Itoa(mo.MaxAttempts))
	addField("Graceful Timeout", mo.GracefulTimeout.String())
	addField("Force Timeout", mo.ForceTimeout.String())

	addSection("Notice Feed")
	addField("Transport", c.ToFeedConfig().Transport)
	addField("Endpoint", orOff(c.FeedEndpoint))

	addSection("Metrics")
	addField("Endpoint", orOff(c.MetricsEndpoint))

	addSection("Backfill")
	addField("Source", orOff(c.SourceDSN))
	for i, identity := range c.Backfill {
		addField(strconv.Itoa(i), identity)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
