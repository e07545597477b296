package audio_test

import (
	"bytes"
	"testing"

	"github.com/avishka-hashara/crosstalk/pkg/audio"
)

func TestFramer_BuffersUntilFull(t *testing.T) {
	f := audio.NewFramer(160, 0xFF)

	if frames := f.Push(make([]byte, 100)); frames != nil {
		t.Fatalf("expected no frames for 100/160 bytes, got %d", len(frames))
	}
	if got := f.Buffered(); got != 100 {
		t.Fatalf("Buffered() = %d, want 100", got)
	}

	frames := f.Push(make([]byte, 100))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after 200 bytes, got %d", len(frames))
	}
	if len(frames[0]) != 160 {
		t.Fatalf("frame size = %d, want 160", len(frames[0]))
	}
	if got := f.Buffered(); got != 40 {
		t.Fatalf("Buffered() = %d, want 40", got)
	}
}

func TestFramer_MultipleFramesPerPush(t *testing.T) {
	f := audio.NewFramer(100, 0x00)

	data := make([]byte, 350)
	for i := range data {
		data[i] = byte(i)
	}
	frames := f.Push(data)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames from 350 bytes, got %d", len(frames))
	}
	for i, frame := range frames {
		if !bytes.Equal(frame, data[i*100:(i+1)*100]) {
			t.Errorf("frame %d content mismatch", i)
		}
	}
	if got := f.Buffered(); got != 50 {
		t.Fatalf("Buffered() = %d, want 50", got)
	}
}

func TestFramer_FlushPadsResidual(t *testing.T) {
	f := audio.NewFramer(160, 0xFF)
	f.Push([]byte{1, 2, 3})

	frame, ok := f.Flush()
	if !ok {
		t.Fatal("Flush returned ok=false with buffered bytes")
	}
	if len(frame) != 160 {
		t.Fatalf("flushed frame size = %d, want 160", len(frame))
	}
	if frame[0] != 1 || frame[1] != 2 || frame[2] != 3 {
		t.Errorf("flushed frame lost data prefix: % x", frame[:3])
	}
	for i := 3; i < 160; i++ {
		if frame[i] != 0xFF {
			t.Fatalf("pad byte at %d = 0x%02X, want 0xFF", i, frame[i])
		}
	}

	if _, ok := f.Flush(); ok {
		t.Error("second Flush should report nothing buffered")
	}
	if got := f.Buffered(); got != 0 {
		t.Fatalf("Buffered() after flush = %d, want 0", got)
	}
}

func TestFramer_FlushEmpty(t *testing.T) {
	f := audio.NewFramer(160, 0x00)
	if _, ok := f.Flush(); ok {
		t.Error("Flush on empty framer should return ok=false")
	}
}

func TestFramer_ReturnedFramesAreIndependent(t *testing.T) {
	f := audio.NewFramer(4, 0x00)
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	frames := f.Push(src)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	src[0] = 99
	frames[0][1] = 98
	if frames[0][0] != 1 {
		t.Error("frame aliases the caller's input buffer")
	}
	if frames[1][0] != 5 || frames[1][1] != 6 {
		t.Error("frames alias each other")
	}
}
