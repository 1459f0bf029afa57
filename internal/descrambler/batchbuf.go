package descrambler

import "github.com/tsgate/tsgate/internal/csa"

// batchWidth is the capacity the batch backend reports.
const batchWidth = csa.BatchWidth

// batchBuffer collects payload slices for one batch decrypt round. Capacity
// is fixed at construction; the last slot is reserved for the terminating
// sentinel the batch backend expects.
type batchBuffer struct {
	items []csa.BatchItem
	n     int
}

func newBatchBuffer(width int) batchBuffer {
	return batchBuffer{items: make([]csa.BatchItem, width+1)}
}

func (b *batchBuffer) len() int {
	return b.n
}

func (b *batchBuffer) full() bool {
	return b.n == len(b.items)-1
}

func (b *batchBuffer) push(payload []byte) {
	b.items[b.n] = csa.BatchItem{Data: payload}
	b.n++
}

// sentinel writes the terminating nil slot and returns the batch ready for
// the backend call.
func (b *batchBuffer) sentinel() []csa.BatchItem {
	b.items[b.n] = csa.BatchItem{}
	return b.items[:b.n+1]
}

// clear drops all payload references so held packets stop being borrowed.
func (b *batchBuffer) clear() {
	for i := range b.items[:b.n] {
		b.items[i] = csa.BatchItem{}
	}
	b.n = 0
}
