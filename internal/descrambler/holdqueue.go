package descrambler

import (
	"github.com/tsgate/tsgate/internal/flow"
	"github.com/tsgate/tsgate/internal/ts"
)

// holdItem is one entry held back while a batch is in flight: either a packet
// or a format announcement, never both.
type holdItem struct {
	pkt       *ts.Packet
	format    *flow.Format
	decrypted bool
}

// holdQueue is a FIFO of held items. Output order equals push order; there is
// no random access and no reordering.
type holdQueue struct {
	items []holdItem
	head  int
}

func (q *holdQueue) empty() bool {
	return q.head == len(q.items)
}

func (q *holdQueue) len() int {
	return len(q.items) - q.head
}

func (q *holdQueue) pushPacket(p *ts.Packet, decrypted bool) {
	q.items = append(q.items, holdItem{pkt: p, decrypted: decrypted})
}

func (q *holdQueue) pushFormat(f *flow.Format) {
	q.items = append(q.items, holdItem{format: f})
}

func (q *holdQueue) pop() (holdItem, bool) {
	if q.empty() {
		return holdItem{}, false
	}
	it := q.items[q.head]
	q.items[q.head] = holdItem{}
	q.head++
	if q.empty() {
		q.items = q.items[:0]
		q.head = 0
	}
	return it, true
}

// drop releases everything without emitting.
func (q *holdQueue) drop() {
	q.items = nil
	q.head = 0
}
