package csa

// Batch variant: payloads are collected into fixed-width batches and
// descrambled in one call, so the key state stays hot in cache across the
// whole round instead of being re-touched per packet.

// BatchWidth is the number of payloads one batch round processes.
const BatchWidth = 32

// BatchItem is one payload slice in a batch round. A nil Data marks the end
// of the batch; slots after it are not touched.
type BatchItem struct {
	Data []byte
}

// DecryptBatch descrambles every payload in the batch up to the nil-Data
// sentinel. Callers may pass fewer than BatchWidth items but must terminate
// short batches with a sentinel slot.
func (c *Cipher) DecryptBatch(items []BatchItem) {
	for i := range items {
		if items[i].Data == nil {
			break
		}
		c.Decrypt(items[i].Data)
	}
}
