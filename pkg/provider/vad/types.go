package vad

// VADEvent is the scoring result for a single audio frame.
type VADEvent struct {
	// Probability is the speech probability in [0,1].
	Probability float64

	// IsSpeech reports whether Probability exceeded the session's speech
	// gate. Turn-taking counters key off this bit.
	IsSpeech bool
}
