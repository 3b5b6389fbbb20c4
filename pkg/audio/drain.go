package audio

// Drain discards everything on ch until it is closed. Use it to release a
// provider goroutine whose output is no longer wanted.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// Collect reads ch until it is closed and concatenates the chunks.
func Collect(ch <-chan []byte) []byte {
	var out []byte
	for b := range ch {
		out = append(out, b...)
	}
	return out
}
