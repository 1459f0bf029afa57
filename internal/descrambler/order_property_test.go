package descrambler

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/tsgate/tsgate/internal/csa"
	"github.com/tsgate/tsgate/internal/cw"
	"github.com/tsgate/tsgate/internal/pidfilter"
	"github.com/tsgate/tsgate/internal/ts"
)

// TestOutputOrder_property feeds random interleavings of clear packets,
// even/odd scrambled packets, and unselected-PID packets through a batched
// descrambler and checks that emission order equals arrival order and that
// every scrambled payload decrypts back to its plaintext.
func TestOutputOrder_property(t *testing.T) {
	evenKey, err := cw.Parse(evenCW)
	if err != nil {
		t.Fatal(err)
	}
	oddKey, err := cw.Parse(oddCW)
	if err != nil {
		t.Fatal(err)
	}
	evenCipher, _ := csa.NewCipher(evenKey.Bytes)
	oddCipher, _ := csa.NewCipher(oddKey.Bytes)

	rapid.Check(t, func(t *rapid.T) {
		pids := &pidfilter.Set{}
		if err := pids.Add(0x200); err != nil {
			t.Fatal(err)
		}
		sink := &recordSink{}
		// No timer loop: every scrambled packet is flushed as soon as it is
		// enqueued, keeping the run deterministic. The batch never holds more
		// than one payload, so fullness and parity flushes do not occur here.
		d := New(Config{Sink: sink, PIDs: pids, Latency: 10 * time.Millisecond})
		if err := d.SetKey(evenCW, oddCW); err != nil {
			t.Fatal(err)
		}

		n := rapid.IntRange(1, 100).Draw(t, "n")
		var wantPayloads [][]byte
		for i := 0; i < n; i++ {
			kind := rapid.IntRange(0, 3).Draw(t, "kind")
			seq := byte(i)
			switch kind {
			case 0: // clear packet on the selected PID
				pkt := buildPacket(0x200, ts.ScramblingNone, seq)
				wantPayloads = append(wantPayloads, append([]byte(nil), pkt[4:]...))
				d.Put(ts.New(pkt))
			case 1: // packet outside the PID filter
				pkt := buildPacket(0x300, ts.ScramblingEven, seq)
				wantPayloads = append(wantPayloads, append([]byte(nil), pkt[4:]...))
				d.Put(ts.New(pkt))
			case 2: // even-scrambled
				pkt := buildPacket(0x200, ts.ScramblingEven, seq)
				wantPayloads = append(wantPayloads, append([]byte(nil), pkt[4:]...))
				evenCipher.Encrypt(pkt[4:])
				d.Put(ts.New(pkt))
			case 3: // odd-scrambled
				pkt := buildPacket(0x200, ts.ScramblingOdd, seq)
				wantPayloads = append(wantPayloads, append([]byte(nil), pkt[4:]...))
				oddCipher.Encrypt(pkt[4:])
				d.Put(ts.New(pkt))
			}
		}
		d.Flush()

		if len(sink.packets) != n {
			t.Fatalf("emitted %d of %d packets", len(sink.packets), n)
		}
		for i, p := range sink.packets {
			if got := p.Data[4:]; string(got) != string(wantPayloads[i]) {
				t.Fatalf("packet %d: payload mismatch (order violated or bad decrypt)", i)
			}
		}
	})
}
