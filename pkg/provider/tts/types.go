package tts

// VoiceProfile describes one voice offered by a synthesis backend.
type VoiceProfile struct {
	// ID is the backend's identifier for the voice, passed back verbatim
	// when synthesising.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the backend the voice belongs to.
	Provider string

	// SpeedFactor scales the speaking rate between 0.5 and 2.0, where
	// 1.0 is the voice's natural pace. Backends without a rate control
	// ignore it.
	SpeedFactor float64

	// Metadata carries backend-specific attributes such as gender,
	// accent or age bracket.
	Metadata map[string]string
}
