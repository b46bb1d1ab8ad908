// Package queue implements the timer heap used by the scheduler.
//
// Items are ordered by (Due, Seq). Seq is assigned by the queue on every Push,
// so items with equal due times pop in insertion order.
//
// Queue is not safe for concurrent use; the scheduler guards it with its own lock.
package queue

import "container/heap"

// Item is a heap entry. Due is an absolute monotonic timestamp in nanoseconds.
type Item[T any] struct {
	Due   int64
	Value T

	seq   uint64
	index int // -1 when not queued
}

// Seq returns the insertion sequence assigned by the last Push.
func (it *Item[T]) Seq() uint64 { return it.seq }

// Queued reports whether the item is currently in a queue.
func (it *Item[T]) Queued() bool { return it != nil && it.index >= 0 }

// NewItem returns an item that is not yet queued.
func NewItem[T any](due int64, v T) *Item[T] {
	return &Item[T]{Due: due, Value: v, index: -1}
}

type Queue[T any] struct {
	h   itemHeap[T]
	seq uint64
}

func New[T any]() *Queue[T] { return &Queue[T]{} }

func (q *Queue[T]) Len() int { return len(q.h) }

// Push inserts it. Pushing an item that is already queued re-positions it with a new Seq.
func (q *Queue[T]) Push(it *Item[T]) {
	q.seq++
	it.seq = q.seq
	if it.index >= 0 && it.index < len(q.h) && q.h[it.index] == it {
		heap.Fix(&q.h, it.index)
		return
	}
	heap.Push(&q.h, it)
}

// Peek returns the earliest item without removing it.
func (q *Queue[T]) Peek() (*Item[T], bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return q.h[0], true
}

// PopReady removes and returns, in order, every item with Due <= now.
func (q *Queue[T]) PopReady(now int64) []*Item[T] {
	var out []*Item[T]
	for len(q.h) > 0 && q.h[0].Due <= now {
		out = append(out, heap.Pop(&q.h).(*Item[T]))
	}
	return out
}

// Remove deletes it from the queue. It returns false if it was not queued here.
func (q *Queue[T]) Remove(it *Item[T]) bool {
	if it == nil || it.index < 0 || it.index >= len(q.h) || q.h[it.index] != it {
		return false
	}
	heap.Remove(&q.h, it.index)
	return true
}

// Drain removes every item, earliest first.
func (q *Queue[T]) Drain() []*Item[T] {
	out := make([]*Item[T], 0, len(q.h))
	for len(q.h) > 0 {
		out = append(out, heap.Pop(&q.h).(*Item[T]))
	}
	return out
}

type itemHeap[T any] []*Item[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].Due != h[j].Due {
		return h[i].Due < h[j].Due
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[T]) Push(x any) {
	it := x.(*Item[T])
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
