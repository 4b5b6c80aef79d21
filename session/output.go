package session

import "sync"

// OutputChunk is one ordered, stream-coalesced piece of execution output.
type OutputChunk struct {
	Stream Stream
	Text   string
}

// outputMux accepts tagged fragments in emission order and coalesces
// adjacent fragments of the same stream into one chunk. A stream switch
// always starts a new chunk; fragments are never reordered.
type outputMux struct {
	mu     sync.Mutex
	chunks []OutputChunk
}

func (m *outputMux) Append(stream Stream, text string) {
	if text == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.chunks); n > 0 && m.chunks[n-1].Stream == stream {
		m.chunks[n-1].Text += text
		return
	}
	m.chunks = append(m.chunks, OutputChunk{Stream: stream, Text: text})
}

func (m *outputMux) Chunks() []OutputChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutputChunk, len(m.chunks))
	copy(out, m.chunks)
	return out
}

func (m *outputMux) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, c := range m.chunks {
		n += len(c.Text)
	}
	buf := make([]byte, 0, n)
	for _, c := range m.chunks {
		buf = append(buf, c.Text...)
	}
	return string(buf)
}
