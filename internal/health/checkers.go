package health

import (
	"context"

	"github.com/avishka-hashara/crosstalk/pkg/provider/tts"
)

// Pinger verifies a backing connection. The PostgreSQL conversation store
// implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database returns a readiness check that pings the conversation store.
func Database(p Pinger) Checker {
	return Checker{Name: "database", Check: p.Ping}
}

// Synthesis returns a readiness check that verifies the TTS backend is
// reachable by listing its voice catalogue. Listing is the only side-effect
// free call the provider surface offers.
func Synthesis(p tts.Provider) Checker {
	return Checker{
		Name: "tts",
		Check: func(ctx context.Context) error {
			_, err := p.ListVoices(ctx)
			return err
		},
	}
}
