package daemon

import (
	"bytes"
	"testing"

	"gotest.tools/v3/assert"
)

func TestScrollbackAppend(t *testing.T) {
	b := newScrollback(100)

	b.append([]byte("hello "))
	b.append([]byte("world"))
	assert.Equal(t, b.len(), 11)
	assert.DeepEqual(t, b.bytes(), []byte("hello world"))
}

func TestScrollbackIgnoresEmptyChunks(t *testing.T) {
	b := newScrollback(100)
	b.append(nil)
	b.append([]byte{})
	assert.Equal(t, b.len(), 0)
	assert.Assert(t, b.replaySlices(10) == nil)
}

func TestScrollbackTrimsWholeChunks(t *testing.T) {
	b := newScrollback(10)

	b.append([]byte("aaaa"))
	b.append([]byte("bbbb"))
	b.append([]byte("cccc"))

	// Oldest chunk dropped whole, not split.
	assert.Equal(t, b.len(), 8)
	assert.DeepEqual(t, b.bytes(), []byte("bbbbcccc"))
}

func TestScrollbackOversizeChunkEvictsEverything(t *testing.T) {
	b := newScrollback(10)

	b.append([]byte("aaaa"))
	b.append(bytes.Repeat([]byte("x"), 11))

	// Even the new chunk exceeds the limit on its own and is dropped.
	assert.Equal(t, b.len(), 0)
}

func TestScrollbackNeverExceedsLimit(t *testing.T) {
	b := newScrollback(1000)
	for i := 0; i < 100; i++ {
		b.append(bytes.Repeat([]byte{byte(i)}, 64))
	}
	assert.Assert(t, b.len() <= 1000)
}

func TestReplaySlices(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		max       int
		wantSizes []int
	}{
		{"Empty", 0, 10, nil},
		{"SingleUnderMax", 7, 10, []int{7}},
		{"ExactlyMax", 10, 10, []int{10}},
		{"OneOverMax", 11, 10, []int{10, 1}},
		{"ManySlices", 25, 10, []int{10, 10, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newScrollback(1000)
			if tt.total > 0 {
				b.append(bytes.Repeat([]byte("x"), tt.total))
			}

			slices := b.replaySlices(tt.max)
			assert.Equal(t, len(slices), len(tt.wantSizes))
			for i, want := range tt.wantSizes {
				assert.Equal(t, len(slices[i]), want)
			}
		})
	}
}

func TestReplaySlicesPreserveOrder(t *testing.T) {
	b := newScrollback(1000)
	b.append([]byte("abcdefgh"))
	b.append([]byte("ijklmnop"))

	var got []byte
	for _, s := range b.replaySlices(5) {
		got = append(got, s...)
	}
	assert.DeepEqual(t, got, b.bytes())
}
