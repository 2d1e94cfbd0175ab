package checksum

// Sum computes a 16-bit one's-complement checksum over data, the same
// scheme the Internet checksum uses: the buffer is read as big-endian
// 16-bit words (a trailing odd byte is zero-padded), the words are
// summed with end-around carry folding, and the complement of the low
// 16 bits is returned.
func Sum(data []byte) uint16 {
	var sum uint32

	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}

	// Fold carries back into the low 16 bits
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}

	return ^uint16(sum)
}

// Verify recomputes the checksum over data and reports whether it
// matches want. It never mutates data.
func Verify(data []byte, want uint16) bool {
	return Sum(data) == want
}
