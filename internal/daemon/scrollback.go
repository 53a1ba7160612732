package daemon

const (
	// scrollbackLimit bounds the total bytes retained per session.
	scrollbackLimit = 2_000_000
	// replaySliceSize caps each output frame during scrollback replay.
	replaySliceSize = 100_000
)

// scrollback retains PTY output as a ring of whole chunks. Chunks are
// appended exactly as produced; when the byte total exceeds the limit the
// oldest chunks are dropped whole until it fits.
type scrollback struct {
	chunks [][]byte
	total  int
	limit  int
}

func newScrollback(limit int) *scrollback {
	return &scrollback{limit: limit}
}

func (b *scrollback) append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
	b.total += len(chunk)
	for b.total > b.limit && len(b.chunks) > 0 {
		b.total -= len(b.chunks[0])
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
	}
}

func (b *scrollback) len() int {
	return b.total
}

// bytes concatenates the retained chunks in order.
func (b *scrollback) bytes() []byte {
	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// replaySlices cuts the retained output into contiguous, order-preserving
// slices of at most max bytes each. The concatenation of the slices equals
// the scrollback content. Returns nil when the scrollback is empty.
func (b *scrollback) replaySlices(max int) [][]byte {
	if b.total == 0 {
		return nil
	}
	buf := b.bytes()
	if len(buf) <= max {
		return [][]byte{buf}
	}
	slices := make([][]byte, 0, (len(buf)+max-1)/max)
	for off := 0; off < len(buf); off += max {
		end := min(off+max, len(buf))
		slices = append(slices, buf[off:end])
	}
	return slices
}
