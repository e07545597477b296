package audio

// Framer slices a continuous byte stream into fixed-size frames. Incoming
// chunks may be any length; bytes that do not fill a whole frame are buffered
// until the next push. Flush pads the remainder with the configured fill byte
// so a stream can always end on a frame boundary. Not safe for concurrent use.
type Framer struct {
	size int
	fill byte
	buf  []byte
}

// NewFramer creates a Framer producing frames of size bytes, padding partial
// frames with fill on flush. For linear PCM the fill byte is 0x00; for mu-law
// it is 0xFF (the encoding of silence).
func NewFramer(size int, fill byte) *Framer {
	if size <= 0 {
		panic("audio: framer size must be positive")
	}
	return &Framer{size: size, fill: fill}
}

// Push appends data and returns every complete frame now available, in order.
// The returned slices are freshly allocated and safe to retain.
func (f *Framer) Push(data []byte) [][]byte {
	f.buf = append(f.buf, data...)
	n := len(f.buf) / f.size
	if n == 0 {
		return nil
	}
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		frame := make([]byte, f.size)
		copy(frame, f.buf[i*f.size:(i+1)*f.size])
		frames = append(frames, frame)
	}
	f.buf = f.buf[:copy(f.buf, f.buf[n*f.size:])]
	return frames
}

// Flush returns the buffered partial frame padded to full size with the fill
// byte, or false when nothing is buffered. The framer is empty afterwards.
func (f *Framer) Flush() ([]byte, bool) {
	if len(f.buf) == 0 {
		return nil, false
	}
	frame := make([]byte, f.size)
	n := copy(frame, f.buf)
	for i := n; i < f.size; i++ {
		frame[i] = f.fill
	}
	f.buf = f.buf[:0]
	return frame, true
}

// Buffered reports how many bytes are waiting for the next frame boundary.
func (f *Framer) Buffered() int { return len(f.buf) }
