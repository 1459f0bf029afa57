// Package input reads MPEG-TS byte streams from files, UDP multicast groups,
// and HTTP URLs, and frames them into 188-byte packets.
package input

import (
	"bytes"
	"errors"
	"io"

	"github.com/tsgate/tsgate/internal/ts"
)

// Scanner frames an arbitrary byte stream into TS packets, resynchronizing
// on the 0x47 sync byte after corruption.
type Scanner struct {
	r          io.Reader
	buf        []byte
	syncLosses int
}

// NewScanner wraps a reader.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: r, buf: make([]byte, 0, 64*ts.PacketSize)}
}

// Next returns the next 188-byte packet. The returned slice is only valid
// until the following call. io.EOF signals a clean end of stream.
func (s *Scanner) Next() ([]byte, error) {
	for {
		if pkt := s.frame(); pkt != nil {
			return pkt, nil
		}
		if err := s.fill(); err != nil {
			// A sub-packet tail at EOF is truncation, not a packet.
			if errors.Is(err, io.EOF) && len(s.buf) > 0 && len(s.buf) < ts.PacketSize {
				s.buf = s.buf[:0]
			}
			return nil, err
		}
	}
}

// SyncLosses reports how many times framing had to hunt for a sync byte.
func (s *Scanner) SyncLosses() int {
	return s.syncLosses
}

// frame cuts one packet off the front of the buffer, discarding bytes up to
// the next sync position when alignment is lost.
func (s *Scanner) frame() []byte {
	for len(s.buf) >= ts.PacketSize {
		if s.buf[0] != ts.SyncByte {
			n := bytes.IndexByte(s.buf[1:], ts.SyncByte)
			if n < 0 {
				// Keep a small tail so resync can span the next read.
				if len(s.buf) > ts.PacketSize-1 {
					s.buf = append(s.buf[:0], s.buf[len(s.buf)-(ts.PacketSize-1):]...)
				}
				s.syncLosses++
				return nil
			}
			s.buf = s.buf[n+1:]
			s.syncLosses++
			continue
		}
		pkt := s.buf[:ts.PacketSize]
		s.buf = s.buf[ts.PacketSize:]
		return pkt
	}
	return nil
}

func (s *Scanner) fill() error {
	chunk := make([]byte, 32*ts.PacketSize)
	n, err := s.r.Read(chunk)
	if n > 0 {
		s.buf = append(s.buf, chunk[:n]...)
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}
