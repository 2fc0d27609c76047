// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package pulse carries scanner acquisition pulses to the client. A
// relay next to the scanner broadcasts each pulse's timestamp over UDP;
// the client's [Listener] keeps the latest one in a [Cell], and a
// [Watchdog] clears the cell when pulses stop, so deadlines fall back
// to an estimated start time instead of a stale one.
//
// A datagram is 8 bytes: the pulse time as a big-endian IEEE-754
// float64 count of Unix seconds.
package pulse

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// DefaultPort is the UDP port pulses are broadcast on.
const DefaultPort = 5300

// DatagramSize is the length of an encoded pulse.
const DatagramSize = 8

// Reading is one received pulse.
type Reading struct {
	// Timestamp is the acquisition time reported by the relay.
	Timestamp time.Time

	// ReceivedAt is the local time the datagram arrived.
	ReceivedAt time.Time
}

// IsZero reports whether the reading is empty.
func (r Reading) IsZero() bool { return r.Timestamp.IsZero() }

// Cell holds the most recent reading. It is safe for concurrent use.
type Cell struct {
	latest atomic.Pointer[Reading]
}

// Store replaces the current reading.
func (c *Cell) Store(reading Reading) {
	c.latest.Store(&reading)
}

// Latest returns the current reading, or the zero Reading when none is
// held.
func (c *Cell) Latest() Reading {
	if reading := c.latest.Load(); reading != nil {
		return *reading
	}
	return Reading{}
}

// clearIfUnchanged empties the cell if it still holds the reading that
// was observed as stale, so a pulse stored concurrently is kept.
func (c *Cell) clearIfUnchanged(stale *Reading) bool {
	return c.latest.CompareAndSwap(stale, nil)
}

// Clear empties the cell.
func (c *Cell) Clear() {
	c.latest.Store(nil)
}

// Encode returns the datagram for t.
func Encode(t time.Time) []byte {
	seconds := float64(t.UnixNano()) / float64(time.Second)
	datagram := make([]byte, DatagramSize)
	binary.BigEndian.PutUint64(datagram, math.Float64bits(seconds))
	return datagram
}

// Decode parses a datagram.
func Decode(datagram []byte) (time.Time, error) {
	if len(datagram) != DatagramSize {
		return time.Time{}, fmt.Errorf("pulse datagram is %d bytes, want %d", len(datagram), DatagramSize)
	}
	seconds := math.Float64frombits(binary.BigEndian.Uint64(datagram))
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return time.Time{}, fmt.Errorf("pulse timestamp %v is not a valid time", seconds)
	}
	whole, fraction := math.Modf(seconds)
	return time.Unix(int64(whole), int64(math.Round(fraction*float64(time.Second)))), nil
}
