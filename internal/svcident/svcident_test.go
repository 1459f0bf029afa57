package svcident

import (
	"testing"

	"github.com/tsgate/tsgate/internal/ts"
)

// buildSectionPacket wraps a table section in a PUSI TS packet on pid.
func buildSectionPacket(pid uint16, section []byte) []byte {
	pkt := make([]byte, ts.PacketSize)
	pkt[0] = ts.SyncByte
	pkt[1] = 0x40 | byte(pid>>8&0x1F)
	pkt[2] = byte(pid)
	pkt[3] = 0x10
	pkt[4] = 0x00 // pointer_field
	copy(pkt[5:], section)
	for i := 5 + len(section); i < ts.PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// buildPAT returns a minimal PAT section with the given transport_stream_id.
func buildPAT(tsid uint16) []byte {
	s := []byte{
		0x00,             // table_id
		0xB0, 0x0D,       // section_length = 13
		byte(tsid >> 8), byte(tsid),
		0xC1,             // version 0, current
		0x00, 0x00,       // section / last_section
		0x00, 0x01,       // program_number 1
		0xE1, 0x00,       // PMT PID 0x100
		0x00, 0x00, 0x00, 0x00, // CRC placeholder (not checked by the probe)
	}
	return s
}

// buildSDT returns an SDT section announcing one service.
func buildSDT(onid, tsid, svcID uint16, provider, name string, svcType byte) []byte {
	desc := []byte{svcType, byte(len(provider))}
	desc = append(desc, provider...)
	desc = append(desc, byte(len(name)))
	desc = append(desc, name...)
	entry := []byte{
		byte(svcID >> 8), byte(svcID),
		0xFC, // EIT flags clear
	}
	descLoop := append([]byte{descriptorService, byte(len(desc))}, desc...)
	entry = append(entry, byte(0xF0|len(descLoop)>>8), byte(len(descLoop)))
	entry = append(entry, descLoop...)

	body := []byte{
		byte(tsid >> 8), byte(tsid),
		0xC1,       // version 0, current
		0x00, 0x00, // section / last_section
		byte(onid >> 8), byte(onid),
		0xFF, // reserved
	}
	body = append(body, entry...)
	body = append(body, 0x00, 0x00, 0x00, 0x00) // CRC placeholder
	sec := []byte{0x42, byte(0xB0 | len(body)>>8), byte(len(body))}
	return append(sec, body...)
}

func TestProbe_patThenSDT(t *testing.T) {
	var p Probe
	res, done := p.Feed(buildSectionPacket(0x0000, buildPAT(0x0042)))
	if done {
		t.Fatal("done after PAT alone")
	}
	if res.TransportStreamID != 0x0042 {
		t.Errorf("tsid = 0x%X, want 0x42", res.TransportStreamID)
	}
	res, done = p.Feed(buildSectionPacket(0x0011, buildSDT(0x2100, 0x0042, 0x1010, "ACME", "News One", 0x19)))
	if !done {
		t.Fatal("not done after PAT + SDT")
	}
	if !res.Found {
		t.Fatal("identity not found")
	}
	if res.OriginalNetworkID != 0x2100 || res.ServiceID != 0x1010 {
		t.Errorf("triplet = onid=0x%X sid=0x%X", res.OriginalNetworkID, res.ServiceID)
	}
	if res.ProviderName != "ACME" || res.ServiceName != "News One" || res.ServiceType != 0x19 {
		t.Errorf("identity = %q/%q type=0x%X", res.ProviderName, res.ServiceName, res.ServiceType)
	}
}

func TestProbe_ignoresOtherPIDs(t *testing.T) {
	var p Probe
	pkt := make([]byte, ts.PacketSize)
	pkt[0] = ts.SyncByte
	pkt[1] = 0x41 // PID 0x100
	pkt[2] = 0x00
	pkt[3] = 0x10
	if _, done := p.Feed(pkt); done {
		t.Error("done on unrelated PID")
	}
}

func TestProbe_noPUSIIgnored(t *testing.T) {
	var p Probe
	pkt := buildSectionPacket(0x0011, buildSDT(1, 2, 3, "P", "N", 0x01))
	pkt[1] &^= 0x40 // clear PUSI
	if res, _ := p.Feed(pkt); res.Found {
		t.Error("section accepted from a continuation packet")
	}
}

func TestProbe_shortPacketIgnored(t *testing.T) {
	var p Probe
	if _, done := p.Feed([]byte{0x47, 0x40, 0x11}); done {
		t.Error("done on a truncated packet")
	}
}
