// Package svcident extracts the broadcast identity of the stream flowing
// through the gateway from two standard DVB/MPEG tables:
//
//   - PAT (PID 0x0000) — transport_stream_id
//   - SDT (PID 0x0011) — original_network_id, service_id, provider_name,
//     service_name, service_type
//
// The tables travel in the clear even on scrambled services, so the probe
// runs on the gateway's output and gives the operator a name for what they
// are descrambling. The DVB triplet (original_network_id,
// transport_stream_id, service_id) is a globally registered identifier and
// the strongest programmatic identity anchor for a re-stream.
package svcident

import (
	"encoding/binary"
	"strings"

	"github.com/tsgate/tsgate/internal/ts"
)

const (
	pidPAT = 0x0000
	pidSDT = 0x0011

	tablePAT = 0x00
	tableSDT = 0x42 // SDT actual_transport_stream

	descriptorService = 0x48 // DVB service_descriptor
)

// Result is the extracted identity. All fields are zero/empty until found.
type Result struct {
	Found bool // true once at least service_name was extracted

	// DVB triplet — globally unique registered identifier.
	OriginalNetworkID uint16
	TransportStreamID uint16
	ServiceID         uint16

	ProviderName string
	ServiceName  string
	ServiceType  byte // 0x01=TV, 0x02=Radio, 0x19=AVC HD TV, …
}

// Probe accumulates table sections across packets.
type Probe struct {
	result Result
	gotPAT bool
	gotSDT bool
}

// Feed offers one 188-byte packet to the probe. It returns the identity and
// true once both the PAT and an SDT naming the service have been seen; an SDT
// alone does not finish the probe. Packets on other PIDs are ignored cheaply.
func (p *Probe) Feed(pkt []byte) (Result, bool) {
	if p.done() {
		return p.result, true
	}
	if len(pkt) != ts.PacketSize {
		return p.result, false
	}
	pid := uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
	switch pid {
	case pidPAT:
		if p.gotPAT {
			return p.result, p.done()
		}
	case pidSDT:
		if p.gotSDT {
			return p.result, p.done()
		}
	default:
		return p.result, false
	}
	sec := sectionPayload(pkt)
	if sec == nil {
		return p.result, false
	}
	switch pid {
	case pidPAT:
		if tsid, ok := parsePATTSID(sec); ok {
			p.gotPAT = true
			if p.result.TransportStreamID == 0 {
				p.result.TransportStreamID = tsid
			}
		}
	case pidSDT:
		if parseSDTSection(sec, &p.result) {
			p.gotSDT = true
		}
	}
	return p.result, p.done()
}

func (p *Probe) done() bool {
	return p.gotPAT && p.gotSDT
}

// sectionPayload returns the table section from a PUSI packet, adjusted past
// the pointer field, or nil when the packet cannot start a section.
func sectionPayload(pkt []byte) []byte {
	if pkt[1]&0x40 == 0 {
		return nil // no payload_unit_start_indicator
	}
	start := 4
	if pkt[3]&0x20 != 0 { // adaptation field present
		start = 5 + int(pkt[4])
	}
	if start >= len(pkt) {
		return nil
	}
	start += int(pkt[start]) + 1
	if start >= len(pkt) {
		return nil
	}
	return pkt[start:]
}

// parsePATTSID reads transport_stream_id from a PAT section header.
func parsePATTSID(d []byte) (uint16, bool) {
	if len(d) < 5 || d[0] != tablePAT {
		return 0, false
	}
	return binary.BigEndian.Uint16(d[3:5]), true
}

// parseSDTSection walks the SDT service loop and fills r from the first
// service carrying a usable service_descriptor.
func parseSDTSection(d []byte, r *Result) bool {
	if len(d) < 3 || d[0] != tableSDT {
		return false
	}
	sectionLen := int(uint16(d[1]&0x0F)<<8|uint16(d[2])) + 3
	if sectionLen > len(d) {
		sectionLen = len(d)
	}
	// SDT fixed header: table_id(1), section_length(2), transport_stream_id(2),
	// version/current(1), section_number(1), last_section_number(1),
	// original_network_id(2), reserved(1).
	const hdrLen = 11
	if sectionLen < hdrLen+4 {
		return false
	}
	if r.TransportStreamID == 0 {
		r.TransportStreamID = binary.BigEndian.Uint16(d[3:5])
	}
	r.OriginalNetworkID = binary.BigEndian.Uint16(d[8:10])

	pos := hdrLen
	end := sectionLen - 4 // trim CRC-32
	for pos+5 <= end {
		svcID := binary.BigEndian.Uint16(d[pos : pos+2])
		descLoopLen := int(uint16(d[pos+3]&0x0F)<<8 | uint16(d[pos+4]))
		pos += 5
		descEnd := pos + descLoopLen
		if descEnd > end {
			descEnd = end
		}
		for pos+2 <= descEnd {
			tag := d[pos]
			dLen := int(d[pos+1])
			pos += 2
			if pos+dLen > descEnd {
				break
			}
			if tag == descriptorService && dLen >= 3 {
				prov, name, svcType, ok := parseServiceDescriptor(d[pos : pos+dLen])
				if ok {
					r.ServiceID = svcID
					r.ServiceName = name
					r.ProviderName = prov
					r.ServiceType = svcType
					r.Found = true
					return true
				}
			}
			pos += dLen
		}
		pos = descEnd
	}
	return false
}

// parseServiceDescriptor decodes DVB service_descriptor (tag 0x48):
// service_type(1), provider_name_length(1), provider_name(n),
// service_name_length(1), service_name(m).
func parseServiceDescriptor(d []byte) (prov, name string, svcType byte, ok bool) {
	if len(d) < 3 {
		return "", "", 0, false
	}
	svcType = d[0]
	provLen := int(d[1])
	if 2+provLen+1 > len(d) {
		return "", "", 0, false
	}
	prov = decodeDVBString(d[2 : 2+provLen])
	off := 2 + provLen
	nameLen := int(d[off])
	off++
	if off+nameLen > len(d) {
		return "", "", 0, false
	}
	name = strings.TrimSpace(decodeDVBString(d[off : off+nameLen]))
	if name == "" {
		return "", "", 0, false
	}
	return strings.TrimSpace(prov), name, svcType, true
}

// decodeDVBString handles DVB character-table prefixes and returns UTF-8.
// Latin-1 fallback covers the vast majority of broadcast service names;
// multi-byte charset prefixes (0x10 xx xx) are stripped.
func decodeDVBString(d []byte) string {
	if len(d) == 0 {
		return ""
	}
	if d[0] == 0x10 {
		if len(d) >= 4 {
			d = d[3:]
		}
	} else if d[0] < 0x20 {
		d = d[1:]
	}
	r := make([]rune, 0, len(d))
	for _, b := range d {
		if b >= 0x80 && b <= 0x9F {
			continue // DVB control chars
		}
		r = append(r, rune(b))
	}
	return string(r)
}
