// Package window implements the keyed rolling-window state machine: per-key
// bounded price history, one event-time timer per key, and emission of the
// trailing average once a key has a full window.
package window

// Ring is a fixed-capacity float64 ring buffer. Once full, each Push
// overwrites the oldest value.
type Ring struct {
	buf   []float64
	len   int
	start int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

func (r *Ring) Push(v float64) {
	c := len(r.buf)
	if r.len < c {
		r.buf[(r.start+r.len)%c] = v
		r.len++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % c
}

func (r *Ring) Len() int { return r.len }

func (r *Ring) Cap() int { return len(r.buf) }

func (r *Ring) Full() bool { return r.len == len(r.buf) }

// Get returns the i-th value in arrival order, oldest first.
func (r *Ring) Get(i int) (float64, bool) {
	if i < 0 || i >= r.len {
		return 0, false
	}
	return r.buf[(r.start+i)%len(r.buf)], true
}

// Values copies the buffered values in arrival order.
func (r *Ring) Values() []float64 {
	out := make([]float64, r.len)
	for i := 0; i < r.len; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Mean is the arithmetic mean of the buffered values, 0 when empty.
func (r *Ring) Mean() float64 {
	if r.len == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < r.len; i++ {
		sum += r.buf[(r.start+i)%len(r.buf)]
	}
	return sum / float64(r.len)
}
