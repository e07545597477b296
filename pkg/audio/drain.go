package audio

// Drain consumes ch until it closes, discarding every value. Streaming
// producers block on their send when the consumer walks away; a synthesis
// abandoned mid-turn hands its PCM channel here so the producer can finish
// and exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
