package csa

// Block-cipher layer: an 8-byte block cipher with 56 rounds. Each round mixes
// one S-box lookup into the rotating register; the bit permutation below is
// the DVB-CSA block-layer shuffle (0→1, 1→7, 2→5, 3→4, 4→2, 5→6, 6→0, 7→3).

const (
	// BlockSize is the block-cipher width in bytes.
	BlockSize = 8

	rounds = 56
)

var blockSbox = [256]byte{
	0x3A, 0xEA, 0x68, 0xFE, 0x33, 0xE9, 0x88, 0x1A, 0x83, 0xCF, 0xE1, 0x7F, 0xBA, 0xE2, 0x38, 0x12,
	0xE8, 0x27, 0x61, 0x95, 0x0C, 0x36, 0xE5, 0x70, 0xA2, 0x06, 0x82, 0x7C, 0x17, 0xA3, 0x26, 0x49,
	0xBE, 0x7A, 0x6D, 0x47, 0xC1, 0x51, 0x8F, 0xF3, 0xCC, 0x5B, 0x67, 0xBD, 0xCD, 0x18, 0x08, 0xC9,
	0xFF, 0x69, 0xEF, 0x03, 0x4E, 0x48, 0x4A, 0x84, 0x3F, 0xB4, 0x10, 0x04, 0xDC, 0xF5, 0x5C, 0xC6,
	0x16, 0xAB, 0xAC, 0x4C, 0xF1, 0x6A, 0x2F, 0x3C, 0x3B, 0xD4, 0xD5, 0x94, 0xD0, 0xC4, 0x63, 0x62,
	0x71, 0xA1, 0xF9, 0x4F, 0x2E, 0xAA, 0xC5, 0x56, 0xE3, 0x39, 0x93, 0xCE, 0x65, 0x64, 0xE4, 0x58,
	0x6C, 0x19, 0x42, 0x79, 0xDD, 0xEE, 0x96, 0xF6, 0x8A, 0xEC, 0x1E, 0x85, 0x53, 0x45, 0xDE, 0xBB,
	0x7E, 0x0A, 0x9A, 0x13, 0x2A, 0x9D, 0xC2, 0x5E, 0x5A, 0x1F, 0x32, 0x35, 0x9C, 0xA8, 0x73, 0x30,
	0x29, 0x3D, 0xE7, 0x92, 0x87, 0x1B, 0x2B, 0x4B, 0xA5, 0x57, 0x97, 0x40, 0x15, 0xE6, 0xBC, 0x0E,
	0xEB, 0xC3, 0x34, 0x2D, 0xB8, 0x44, 0x25, 0xA4, 0x1C, 0xC7, 0x23, 0xED, 0x90, 0x6E, 0x50, 0x00,
	0x99, 0x9E, 0x4D, 0xD9, 0xDA, 0x8D, 0x6F, 0x5F, 0x3E, 0xD7, 0x21, 0x74, 0x86, 0xDF, 0x6B, 0x05,
	0x8E, 0x5D, 0x37, 0x11, 0xD2, 0x28, 0x75, 0xD6, 0xA7, 0x77, 0x24, 0xBF, 0xF0, 0xB0, 0x02, 0xB7,
	0xF8, 0xFC, 0x81, 0x09, 0xB1, 0x01, 0x76, 0x91, 0x7D, 0x0F, 0xC8, 0xA0, 0xF2, 0xCB, 0x78, 0x60,
	0xD1, 0xF7, 0xE0, 0xB5, 0x98, 0x22, 0xB3, 0x20, 0x1D, 0xA6, 0xDB, 0x7B, 0x59, 0x9F, 0xAE, 0x31,
	0xFB, 0xD3, 0xB6, 0xCA, 0x43, 0x72, 0x07, 0xF4, 0xD8, 0x41, 0x14, 0x55, 0x0D, 0x54, 0x8B, 0xB9,
	0xAD, 0x46, 0x0B, 0xAF, 0x80, 0x52, 0x2C, 0xFA, 0x8C, 0x89, 0x66, 0xFD, 0xB2, 0xA9, 0x9B, 0xC0,
}

// blockPermute applies the block-layer bit shuffle.
func blockPermute(b byte) byte {
	return (b&0x01)<<1 | (b&0x02)<<6 | (b&0x04)<<3 | (b&0x08)<<1 |
		(b&0x10)>>2 | (b&0x20)<<1 | (b&0x40)>>6 | (b&0x80)>>4
}

// schedule expands an 8-byte control word into the 56 round keys: seven
// 64-bit blocks, each derived from the previous by an S-box/permutation
// diffusion step and tagged with its block index.
func schedule(cw []byte) (ek [rounds]byte) {
	var kb [8]byte
	copy(kb[:], cw)
	for r := 0; r < rounds/8; r++ {
		for j := 0; j < 8; j++ {
			ek[r*8+j] = kb[j] ^ byte(r)
		}
		var nb [8]byte
		for j := 0; j < 8; j++ {
			nb[j] = blockSbox[kb[(j+1)&7]] ^ blockPermute(kb[j])
		}
		kb = nb
	}
	return ek
}

// blockEncrypt runs the 56 rounds forward over one 8-byte block in place.
func (c *Cipher) blockEncrypt(b []byte) {
	_ = b[7]
	s0, s1, s2, s3, s4, s5, s6, s7 := b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7]
	for i := 0; i < rounds; i++ {
		t := blockSbox[s0^c.ek[i]]
		s0, s1, s2, s3, s4, s5, s6, s7 =
			s7^blockPermute(t), s0, s1, s2^t, s3^t, s4, s5^t, s6
	}
	b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7] = s0, s1, s2, s3, s4, s5, s6, s7
}

// blockDecrypt runs the rounds backward, recomputing each round's S-box
// output from the surviving register byte.
func (c *Cipher) blockDecrypt(b []byte) {
	_ = b[7]
	s0, s1, s2, s3, s4, s5, s6, s7 := b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7]
	for i := rounds - 1; i >= 0; i-- {
		t := blockSbox[s1^c.ek[i]]
		s0, s1, s2, s3, s4, s5, s6, s7 =
			s1, s2, s3^t, s4^t, s5, s6^t, s7, s0^blockPermute(t)
	}
	b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7] = s0, s1, s2, s3, s4, s5, s6, s7
}
