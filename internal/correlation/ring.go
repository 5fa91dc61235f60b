package correlation

// ringBuffer is a fixed-capacity buffer of trade outcomes. When full, the
// oldest outcome is evicted on append.
type ringBuffer struct {
	data []Outcome
	head int // index of the oldest element
	size int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{data: make([]Outcome, capacity)}
}

func (r *ringBuffer) append(o Outcome) {
	if r.size < len(r.data) {
		r.data[(r.head+r.size)%len(r.data)] = o
		r.size++
		return
	}
	// Full: overwrite the oldest slot and advance.
	r.data[r.head] = o
	r.head = (r.head + 1) % len(r.data)
}

func (r *ringBuffer) len() int {
	return r.size
}

// snapshot returns the outcomes in insertion order (oldest first).
func (r *ringBuffer) snapshot() []Outcome {
	out := make([]Outcome, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.data[(r.head+i)%len(r.data)]
	}
	return out
}
