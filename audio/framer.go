package audio

import "sync"

// FrameSize is the number of samples in one level reading (16 ms at 16 kHz).
const FrameSize = 256

const bytesPerSample = 2

// framer regroups backend buffers of any size into FrameSize-sample frames
// so every level update covers the same stretch of time.
type framer struct {
	mu  sync.Mutex
	buf []byte
}

// push appends data and hands every complete frame to cb. A trailing
// partial frame waits for the next push.
func (f *framer) push(data []byte, cb DataCallback) {
	const frameBytes = FrameSize * bytesPerSample

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buf) == 0 && len(data) == frameBytes {
		cb(data, FrameSize)
		return
	}
	f.buf = append(f.buf, data...)
	n := 0
	for ; n+frameBytes <= len(f.buf); n += frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, f.buf[n:n+frameBytes])
		cb(frame, FrameSize)
	}
	f.buf = append(f.buf[:0], f.buf[n:]...)
}

func (f *framer) reset() {
	f.mu.Lock()
	f.buf = f.buf[:0]
	f.mu.Unlock()
}
