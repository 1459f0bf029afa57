package descrambler

import (
	"errors"

	"github.com/tsgate/tsgate/internal/cissa"
	"github.com/tsgate/tsgate/internal/csa"
)

// CipherMode identifies the active descrambling backend. The mode is fixed
// when keys are installed; switching modes clears both key slots first.
type CipherMode int

const (
	ModeNone CipherMode = iota
	ModeCSA
	ModeCSABatch
	ModeAES
)

func (m CipherMode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeCSA:
		return "csa"
	case ModeCSABatch:
		return "csa-batch"
	case ModeAES:
		return "aes-cissa"
	default:
		return "unknown"
	}
}

// Key parity slots, indexed by the TS scrambling-control bits.
const (
	parityEven = 0
	parityOdd  = 1
)

var errNoKey = errors.New("descrambler: no key for parity")

// cipherSet is the dual even/odd key register. All occupied slots share one
// mode; the even slot is mandatory whenever any key is set.
type cipherSet struct {
	mode CipherMode
	csa  [2]*csa.Cipher
	aes  [2]*cissa.Cipher
}

func (cs *cipherSet) clear() {
	*cs = cipherSet{}
}

func (cs *cipherSet) installCSA(parity int, key []byte, batched bool) error {
	c, err := csa.NewCipher(key)
	if err != nil {
		return err
	}
	cs.csa[parity] = c
	if batched {
		cs.mode = ModeCSABatch
	} else {
		cs.mode = ModeCSA
	}
	return nil
}

func (cs *cipherSet) installAES(parity int, key []byte) error {
	c, err := cissa.NewCipher(key)
	if err != nil {
		return err
	}
	cs.aes[parity] = c
	cs.mode = ModeAES
	return nil
}

func (cs *cipherSet) hasKey(parity int) bool {
	switch cs.mode {
	case ModeCSA, ModeCSABatch:
		return cs.csa[parity] != nil
	case ModeAES:
		return cs.aes[parity] != nil
	default:
		return false
	}
}

// decrypt runs the per-packet path (CSA and AES modes).
func (cs *cipherSet) decrypt(parity int, payload []byte) error {
	switch cs.mode {
	case ModeCSA:
		c := cs.csa[parity]
		if c == nil {
			return errNoKey
		}
		c.Decrypt(payload)
		return nil
	case ModeAES:
		c := cs.aes[parity]
		if c == nil {
			return errNoKey
		}
		c.Decrypt(payload)
		return nil
	default:
		return errNoKey
	}
}

// decryptBatch runs a sentinel-terminated batch (CSA batch mode only).
func (cs *cipherSet) decryptBatch(parity int, items []csa.BatchItem) error {
	if cs.mode != ModeCSABatch || cs.csa[parity] == nil {
		return errNoKey
	}
	cs.csa[parity].DecryptBatch(items)
	return nil
}
