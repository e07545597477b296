package health

import (
	"context"
	"errors"
	"testing"

	"github.com/avishka-hashara/crosstalk/pkg/provider/tts"
	ttsmock "github.com/avishka-hashara/crosstalk/pkg/provider/tts/mock"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestDatabaseChecker(t *testing.T) {
	if err := Database(fakePinger{}).Check(context.Background()); err != nil {
		t.Fatalf("healthy store reported: %v", err)
	}

	down := errors.New("connection refused")
	err := Database(fakePinger{err: down}).Check(context.Background())
	if !errors.Is(err, down) {
		t.Fatalf("err = %v, want the ping failure", err)
	}
}

func TestSynthesisChecker(t *testing.T) {
	healthy := &ttsmock.Provider{
		ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
	}
	if err := Synthesis(healthy).Check(context.Background()); err != nil {
		t.Fatalf("healthy provider reported: %v", err)
	}
	if len(healthy.ListVoicesCalls) != 1 {
		t.Fatalf("ListVoices called %d times, want 1", len(healthy.ListVoicesCalls))
	}

	down := &ttsmock.Provider{ListVoicesErr: errors.New("dns failure")}
	if err := Synthesis(down).Check(context.Background()); err == nil {
		t.Fatal("unreachable provider reported healthy")
	}
}
