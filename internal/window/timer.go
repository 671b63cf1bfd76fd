package window

import "container/heap"

// timerQueue is an indexed min-heap of armed key states ordered by fire time
// and then by schedule order. A key appears at most once.
type timerQueue []*KeyState

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].pending.Equal(q[j].pending) {
		return q[i].seq < q[j].seq
	}
	return q[i].pending.Before(q[j].pending)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	s := x.(*KeyState)
	s.index = len(*q)
	*q = append(*q, s)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*q = old[:n-1]
	return s
}

// schedule arms s or moves its existing timer.
func (q *timerQueue) schedule(s *KeyState) {
	if s.index >= 0 {
		heap.Fix(q, s.index)
		return
	}
	heap.Push(q, s)
}

func (q *timerQueue) peek() *KeyState {
	if len(*q) == 0 {
		return nil
	}
	return (*q)[0]
}

func (q *timerQueue) pop() *KeyState {
	return heap.Pop(q).(*KeyState)
}

func (q *timerQueue) remove(s *KeyState) {
	if s.index >= 0 {
		heap.Remove(q, s.index)
	}
}
