package session

import "testing"

func TestOutputMuxCoalescing(t *testing.T) {
	tests := []struct {
		name string
		in   []OutputChunk
		want []OutputChunk
	}{
		{
			name: "same stream merges",
			in:   []OutputChunk{{StreamOut, "a"}, {StreamOut, "b"}},
			want: []OutputChunk{{StreamOut, "ab"}},
		},
		{
			name: "stream switch breaks the run",
			in:   []OutputChunk{{StreamOut, "a"}, {StreamErr, "b"}, {StreamOut, "c"}},
			want: []OutputChunk{{StreamOut, "a"}, {StreamErr, "b"}, {StreamOut, "c"}},
		},
		{
			name: "burst then switch",
			in:   []OutputChunk{{StreamOut, "1"}, {StreamOut, "2"}, {StreamOut, "3"}, {StreamErr, "!"}, {StreamErr, "?"}},
			want: []OutputChunk{{StreamOut, "123"}, {StreamErr, "!?"}},
		},
		{
			name: "empty fragments dropped",
			in:   []OutputChunk{{StreamOut, ""}, {StreamErr, "x"}, {StreamErr, ""}},
			want: []OutputChunk{{StreamErr, "x"}},
		},
		{
			name: "no output",
			in:   nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mux outputMux
			for _, c := range tt.in {
				mux.Append(c.Stream, c.Text)
			}
			got := mux.Chunks()
			if len(got) != len(tt.want) {
				t.Fatalf("chunks = %+v, want %+v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("chunk[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestOutputMuxString(t *testing.T) {
	var mux outputMux
	mux.Append(StreamOut, "hello ")
	mux.Append(StreamErr, "oops ")
	mux.Append(StreamOut, "world")

	if got := mux.String(); got != "hello oops world" {
		t.Errorf("String() = %q", got)
	}
}

func TestOutputMuxChunksAreCopies(t *testing.T) {
	var mux outputMux
	mux.Append(StreamOut, "a")
	first := mux.Chunks()
	mux.Append(StreamOut, "b")

	if first[0].Text != "a" {
		t.Errorf("earlier snapshot mutated: %+v", first)
	}
}

func BenchmarkOutputMuxAppend(b *testing.B) {
	var mux outputMux
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		mux.Append(StreamOut, "fragment")
	}
}
