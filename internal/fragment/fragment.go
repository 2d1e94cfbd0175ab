package fragment

// Split divides data into ordered segments of at most size bytes.
// Segment i covers the byte range [i*size, min((i+1)*size, len(data))),
// so the segments partition the input with no gap or overlap and only
// the final segment may be shorter. Each segment is a copy; mutating
// data afterwards does not alter segments already produced.
func Split(data []byte, size int) [][]byte {
	if size <= 0 {
		return nil
	}

	total := Count(int64(len(data)), size)
	segments := make([][]byte, 0, total)

	for i := 0; i < total; i++ {
		start := i * size
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		segment := make([]byte, end-start)
		copy(segment, data[start:end])
		segments = append(segments, segment)
	}

	return segments
}

// Count returns the number of segments a buffer of fileSize bytes
// produces for the given segment size: ceil(fileSize/size).
func Count(fileSize int64, size int) int {
	if size <= 0 {
		return 0
	}
	return int((fileSize + int64(size) - 1) / int64(size))
}

// Reassemble concatenates segments in sequence order. When every
// segment arrived unaltered, the result reproduces the original buffer
// exactly.
func Reassemble(segments [][]byte) []byte {
	var total int
	for _, segment := range segments {
		total += len(segment)
	}

	out := make([]byte, 0, total)
	for _, segment := range segments {
		out = append(out, segment...)
	}
	return out
}
