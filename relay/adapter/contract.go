package adapter

import "sync"

// RunContract wraps a caller-supplied sink so that every concrete adapter
// enforces the streaming terminator contract in one place: zero or
// more delta chunks, then exactly one of done/error, and nothing after.
// generate is handed the guarded sink and must still return the final
// GenerateResponse/error itself — RunContract only polices chunk emission.
func RunContract(sink Sink, generate func(guarded Sink) (GenerateResponse, error)) (GenerateResponse, error) {
	var mu sync.Mutex
	terminated := false

	guarded := func(chunk StreamChunk) {
		mu.Lock()
		if terminated {
			mu.Unlock()
			return
		}
		if chunk.Kind == ChunkDone || chunk.Kind == ChunkError {
			terminated = true
		}
		mu.Unlock()
		sink(chunk)
	}

	return generate(guarded)
}
