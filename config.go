// Copyright 2024 The s4 Authors
// This file is part of s4.
//
// s4 is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// s4 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with s4. If not, see <http://www.gnu.org/licenses/>.

package s4

import (
	"github.com/c2h5oh/datasize"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/trofi/s4/wal"
)

// Config carries the options Open needs, built via functional Options
// in the idiom erigon-lib's config packages use.
type Config struct {
	// CheckpointThreshold is the fraction of WAL capacity consumed since
	// the last checkpoint that triggers a background snapshot (§4.9).
	CheckpointThreshold float64
	// WALCapacity documents the ring buffer size Open will use; it is
	// fixed at wal.Capacity (§4.8: "fixed 2 MiB") and exists only so a
	// caller can assert the build they linked against matches their
	// expectations, not as a real knob.
	WALCapacity datasize.ByteSize
	// SnapshotLevel is the zstd compression level snapshot.Save uses.
	SnapshotLevel zstd.EncoderLevel
	// Log is the process-wide logger every subsystem derives a named
	// child from; defaults to a no-op logger.
	Log *zap.Logger
}

// Option mutates a Config being built by NewConfig.
type Option func(*Config)

// WithCheckpointThreshold overrides the default checkpoint trigger
// fraction.
func WithCheckpointThreshold(frac float64) Option {
	return func(c *Config) { c.CheckpointThreshold = frac }
}

// WithSnapshotLevel overrides the zstd level snapshots are written at.
func WithSnapshotLevel(level zstd.EncoderLevel) Option {
	return func(c *Config) { c.SnapshotLevel = level }
}

// WithLogger sets the process-wide logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) { c.Log = log }
}

// defaultCheckpointThreshold triggers a snapshot once a quarter of the
// WAL ring has been written since the last checkpoint.
const defaultCheckpointThreshold = 0.25

// NewConfig returns a Config with defaults applied, then every opt in
// order.
func NewConfig(opts ...Option) *Config {
	c := &Config{
		CheckpointThreshold: defaultCheckpointThreshold,
		WALCapacity:         datasize.ByteSize(wal.Capacity),
		SnapshotLevel:       zstd.SpeedDefault,
		Log:                 zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
	return c
}
