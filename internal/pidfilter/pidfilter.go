// Package pidfilter holds the set of packet identifiers selected for
// descrambling. Membership is a bitset over the 13-bit PID space.
package pidfilter

import (
	"errors"
	"fmt"
	"math/bits"
)

// maxPID is the largest 13-bit packet identifier.
const maxPID = 0x1FFF

// ErrBadPID is returned for values outside the 13-bit PID space.
var ErrBadPID = errors.New("pidfilter: PID out of range")

// Set is a PID membership set. The zero value is empty and ready to use.
type Set struct {
	bits [(maxPID + 1) / 64]uint64
}

// Add selects a PID.
func (s *Set) Add(pid uint16) error {
	if pid > maxPID {
		return fmt.Errorf("%w: 0x%X", ErrBadPID, pid)
	}
	s.bits[pid>>6] |= 1 << (pid & 63)
	return nil
}

// Del deselects a PID. Unknown PIDs are a no-op.
func (s *Set) Del(pid uint16) error {
	if pid > maxPID {
		return fmt.Errorf("%w: 0x%X", ErrBadPID, pid)
	}
	s.bits[pid>>6] &^= 1 << (pid & 63)
	return nil
}

// Has reports whether a PID is selected.
func (s *Set) Has(pid uint16) bool {
	if pid > maxPID {
		return false
	}
	return s.bits[pid>>6]&(1<<(pid&63)) != 0
}

// Len returns the number of selected PIDs.
func (s *Set) Len() int {
	n := 0
	for _, w := range s.bits {
		n += bits.OnesCount64(w)
	}
	return n
}
