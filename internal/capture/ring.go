package capture

import (
	"fmt"
)

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // approximate TPACKET3_HDRLEN
)

// ringSize picks AF_PACKET ring geometry for a memory budget of bufferSize
// bytes. The kernel requires frameSize to be a multiple of
// TPACKET_ALIGNMENT, blockSize a multiple of the page size, and blockSize a
// multiple of frameSize.
func ringSize(bufferSize, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if bufferSize <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d", bufferSize)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snaplen must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)
	if frameSize > pageSize {
		// Whole pages per frame keep the block equal to one frame.
		frameSize = alignUp(frameSize, pageSize)
	}
	blockSize = lcm(pageSize, frameSize)

	numBlocks = bufferSize / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}
