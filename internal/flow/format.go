// Package flow defines in-band stream format announcements. A Format travels
// through the pipeline interleaved with packets and tells downstream consumers
// what the stream carries and how much latency has accumulated upstream.
package flow

import (
	"strings"
	"time"
)

// Prefix is the definition prefix every TS-carrying format must match.
const Prefix = "block.mpegts."

// Format announces the shape of a stream. Def is a dot-separated type chain
// (e.g. "block.mpegts.sound."); Latency is the latency accumulated by the
// stages upstream of the announcement.
type Format struct {
	Def     string
	Program string
	Latency time.Duration
}

// Match reports whether the definition names an MPEG-TS block stream.
func (f *Format) Match() bool {
	return strings.HasPrefix(f.Def, Prefix)
}

// WithLatency returns a copy of the format carrying the given downstream
// latency. The receiver is not modified; announcements upstream may still be
// referenced by other consumers.
func (f *Format) WithLatency(d time.Duration) *Format {
	out := *f
	out.Latency = d
	return &out
}
