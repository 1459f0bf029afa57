// Package descrambler turns a selectively scrambled MPEG-TS stream into
// cleartext. Packets arrive one at a time; scrambled payloads on selected
// PIDs are decrypted with the installed even/odd control words and everything
// is handed downstream in arrival order.
//
// In the batched CSA mode the core trades latency for throughput: scrambled
// packets are collected into a fixed-width batch and decrypted in one backend
// call. Clear packets and format announcements that arrive while a batch is
// open are held back so output order never changes. A batch is flushed when
// it fills, when the key parity flips, or when the latency deadline expires.
package descrambler

import (
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/tsgate/tsgate/internal/cw"
	"github.com/tsgate/tsgate/internal/evloop"
	"github.com/tsgate/tsgate/internal/flow"
	"github.com/tsgate/tsgate/internal/pidfilter"
	"github.com/tsgate/tsgate/internal/ts"
)

const (
	// LatencyFloor is added to every downstream latency announcement while
	// batching, and is the budget above which a batch decrypt is logged as
	// slow.
	LatencyFloor = 5 * time.Millisecond

	// DefaultLatency is a batching budget callers can pass as Config.Latency.
	// New never substitutes it: batching is enabled only by a positive
	// Config.Latency.
	DefaultLatency = 5 * time.Millisecond
)

var (
	// ErrInvalidFlow rejects format announcements that do not carry MPEG-TS.
	ErrInvalidFlow = errors.New("descrambler: format is not an MPEG-TS block stream")
	// ErrInvalidKey rejects malformed control words.
	ErrInvalidKey = errors.New("descrambler: invalid control word")
)

// Sink receives the descrambler's output. Calls arrive on the goroutine that
// drives the descrambler, in input order.
type Sink interface {
	Output(p *ts.Packet)
	Format(f *flow.Format)
}

// Config carries the collaborators and the batching decision.
type Config struct {
	Sink Sink
	// PIDs is the membership set of identifiers to descramble. Optional; an
	// empty set passes everything through.
	PIDs *pidfilter.Set
	// Loop hosts the deadline timer. Optional at construction; without one
	// (see AttachLoop) batches are flushed per packet.
	Loop *evloop.Loop
	// Latency, when positive, declares the batching budget: CSA keys then
	// select the batched backend and deadline flushes use this duration.
	Latency time.Duration
}

// Descrambler is the processing stage. It is not safe for concurrent use;
// drive it from one goroutine or from an event loop.
type Descrambler struct {
	sink    Sink
	pids    *pidfilter.Set
	latency time.Duration
	batched bool

	keys cipherSet

	hold        holdQueue
	batch       batchBuffer
	batchParity int // parity of the open batch; meaningful only when non-empty

	timer *evloop.Timer
	// refs counts outstanding hold references: one is taken when the hold
	// queue first fills and released by the flush that drains it, so a
	// deadline firing into a tear-down cannot orphan held packets.
	refs int

	slowWarn *rate.Limiter
	dropWarn *rate.Limiter
}

// New builds a descrambler. The batch width is fixed by the CSA batch
// backend; the hold queue grows as needed.
func New(cfg Config) *Descrambler {
	pids := cfg.PIDs
	if pids == nil {
		pids = &pidfilter.Set{}
	}
	d := &Descrambler{
		sink:     cfg.Sink,
		pids:     pids,
		latency:  cfg.Latency,
		batched:  cfg.Latency > 0,
		batch:    newBatchBuffer(BatchWidth()),
		slowWarn: rate.NewLimiter(rate.Every(time.Second), 1),
		dropWarn: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	if cfg.Loop != nil {
		d.AttachLoop(cfg.Loop)
	}
	return d
}

// AttachLoop binds the deadline timer to an event loop. Until a loop is
// attached, batching degrades to a flush per packet so latency stays bounded.
func (d *Descrambler) AttachLoop(l *evloop.Loop) {
	d.timer = l.NewTimer(func() { d.flush("deadline") })
}

// Mode reports the active cipher mode.
func (d *Descrambler) Mode() CipherMode {
	return d.keys.mode
}

// AddPID selects a PID for descrambling.
func (d *Descrambler) AddPID(pid uint16) error {
	return d.pids.Add(pid)
}

// DelPID deselects a PID.
func (d *Descrambler) DelPID(pid uint16) error {
	return d.pids.Del(pid)
}

// SetKey replaces the key register. evenCW is mandatory; oddCW is optional
// and must have the same encoded length as evenCW. The cipher mode is
// recomputed from the even word: AES for 32-hex-character keys, otherwise CSA
// (the batched variant when the descrambler was configured with a latency
// budget).
func (d *Descrambler) SetKey(evenCW, oddCW string) error {
	// A batch keyed by the old words must not survive the register change.
	if d.batch.len() > 0 {
		d.flush("rekey")
	}
	d.keys.clear()
	even, err := cw.Parse(evenCW)
	if err != nil {
		return fmt.Errorf("%w: even: %v", ErrInvalidKey, err)
	}
	if err := d.install(parityEven, even); err != nil {
		return fmt.Errorf("%w: even: %v", ErrInvalidKey, err)
	}
	if oddCW != "" {
		if len(oddCW) != len(evenCW) {
			return fmt.Errorf("%w: odd word length %d does not match even length %d",
				ErrInvalidKey, len(oddCW), len(evenCW))
		}
		odd, err := cw.Parse(oddCW)
		if err != nil {
			return fmt.Errorf("%w: odd: %v", ErrInvalidKey, err)
		}
		if err := d.install(parityOdd, odd); err != nil {
			return fmt.Errorf("%w: odd: %v", ErrInvalidKey, err)
		}
	}
	log.Printf("descrambler: keys installed mode=%s odd=%v", d.keys.mode, d.keys.hasKey(parityOdd))
	return nil
}

func (d *Descrambler) install(parity int, key cw.Key) error {
	if key.AES {
		return d.keys.installAES(parity, key.Bytes)
	}
	return d.keys.installCSA(parity, key.Bytes, d.batched)
}

// PutFormat accepts an in-band format announcement. When nothing is held it
// is published immediately with the downstream latency adjusted for
// batching; otherwise it queues behind the packets it followed.
func (d *Descrambler) PutFormat(f *flow.Format) error {
	if f == nil || !f.Match() {
		return ErrInvalidFlow
	}
	if d.hold.empty() {
		d.applyFormat(f)
		return nil
	}
	d.hold.pushFormat(f)
	return nil
}

func (d *Descrambler) applyFormat(f *flow.Format) {
	out := f
	if d.keys.mode == ModeCSABatch {
		out = f.WithLatency(f.Latency + d.latency + LatencyFloor)
	}
	d.sink.Format(out)
}

// Put accepts one TS packet. The call never fails; malformed packets are
// dropped and unscrambled or unselected packets pass through untouched.
func (d *Descrambler) Put(p *ts.Packet) {
	if d.keys.mode == ModeNone {
		if d.batch.len() > 0 {
			d.flush("unkeyed")
		}
		d.emit(p, outcomePassthrough)
		return
	}
	h, err := ts.ParseHeader(p.Data)
	if err != nil {
		packetsTotal.WithLabelValues(outcomeDropped).Inc()
		if d.dropWarn.Allow() {
			log.Printf("descrambler: dropping packet: %v", err)
		}
		return
	}
	parity, ok := d.parityFor(h)
	if !ok || !h.HasPayload || !d.pids.Has(h.PID) {
		d.passThrough(p)
		return
	}

	scrambledTotal.WithLabelValues(parityLabel[parity]).Inc()
	// The input buffer may be shared with other consumers of the same
	// stream; decrypt an exclusively owned copy.
	wp := p.Writable()
	wp.ClearScrambling()
	payload := wp.Data[h.Size:]

	switch d.keys.mode {
	case ModeCSA, ModeAES:
		if err := d.keys.decrypt(parity, payload); err != nil {
			// Emit regardless: the header already claims cleartext. Dropping
			// here would stall downstream clock recovery over a key hiccup.
			if d.slowWarn.Allow() {
				log.Printf("descrambler: decrypt pid=0x%X parity=%s: %v", h.PID, parityLabel[parity], err)
			}
		}
		d.emit(wp, outcomeDecrypted)
	case ModeCSABatch:
		d.enqueue(wp, payload, parity)
	}
}

// parityFor maps the scrambling-control bits onto a key slot. Odd is valid
// only while an odd word is installed; clear and reserved never select one.
func (d *Descrambler) parityFor(h ts.Header) (int, bool) {
	switch h.Scrambling {
	case ts.ScramblingEven:
		return parityEven, true
	case ts.ScramblingOdd:
		if d.keys.hasKey(parityOdd) {
			return parityOdd, true
		}
	}
	return 0, false
}

// passThrough emits a packet the core does not touch, holding it back when
// scrambled packets are already waiting so order is preserved.
func (d *Descrambler) passThrough(p *ts.Packet) {
	if d.hold.empty() {
		d.emit(p, outcomePassthrough)
		return
	}
	d.hold.pushPacket(p, false)
}

// enqueue adds a scrambled packet to the open batch, flushing first on a
// parity flip and afterwards on fullness.
func (d *Descrambler) enqueue(p *ts.Packet, payload []byte, parity int) {
	if d.batch.len() > 0 && d.batchParity != parity {
		d.flush("parity")
	}
	d.batchParity = parity
	d.batch.push(payload)
	wasEmpty := d.hold.empty()
	d.hold.pushPacket(p, true)
	if wasEmpty {
		d.refs++
		if d.timer != nil {
			d.timer.Arm(d.latency)
		}
	}
	if d.batch.full() {
		d.flush("full")
		return
	}
	if d.timer == nil {
		// No timer to bound the wait; run the batch down immediately.
		d.flush("untimed")
	}
}

// flush decrypts the open batch and drains the hold queue in FIFO order.
func (d *Descrambler) flush(reason string) {
	if d.timer != nil {
		d.timer.Cancel()
	}
	if n := d.batch.len(); n > 0 {
		start := time.Now()
		if err := d.keys.decryptBatch(d.batchParity, d.batch.sentinel()); err != nil {
			if d.slowWarn.Allow() {
				log.Printf("descrambler: batch decrypt n=%d: %v", n, err)
			}
		}
		elapsed := time.Since(start)
		batchSeconds.Observe(elapsed.Seconds())
		if elapsed > LatencyFloor && d.slowWarn.Allow() {
			log.Printf("descrambler: slow batch n=%d took=%s reason=%s", n, elapsed.Round(time.Microsecond), reason)
		}
		d.batch.clear()
	}
	for {
		it, ok := d.hold.pop()
		if !ok {
			break
		}
		if it.format != nil {
			d.applyFormat(it.format)
			continue
		}
		if it.decrypted {
			d.emit(it.pkt, outcomeDecrypted)
		} else {
			d.emit(it.pkt, outcomePassthrough)
		}
	}
	if d.refs > 0 {
		d.refs--
	}
	flushesTotal.WithLabelValues(reason).Inc()
}

// Flush forces the open batch out. Exposed for explicit drains, e.g. at end
// of input.
func (d *Descrambler) Flush() {
	if d.batch.len() > 0 || !d.hold.empty() {
		d.flush("explicit")
	}
}

// Close abandons any open batch without decrypting and releases held packets
// without emitting them.
func (d *Descrambler) Close() {
	if d.timer != nil {
		d.timer.Cancel()
	}
	d.batch.clear()
	d.hold.drop()
	d.refs = 0
	d.keys.clear()
	flushesTotal.WithLabelValues("close").Inc()
}

func (d *Descrambler) emit(p *ts.Packet, outcome string) {
	packetsTotal.WithLabelValues(outcome).Inc()
	d.sink.Output(p)
}

// BatchWidth is the batch capacity of the CSA batch backend.
func BatchWidth() int {
	return batchWidth
}
