// Package scheduler implements the worker-side scan scheduler (C7): a
// chunk disk holding active/pending priority queues ordered by chunk
// id, admission rules that avoid starving an in-progress scan, and a
// group-scheduling alternative for tasks sharing a scan fingerprint.
package scheduler

import "container/heap"

// Task is one unit of scheduled work: a fragment destined for one
// chunk, identified by a hash for de-duplication and carrying a
// poisoned flag a cancelling caller can flip at any point before
// finish.
type Task struct {
	Hash        string
	ChunkID     int
	Fragments   []string
	Db          string
	User        string
	EntryTime   int64
	Channel     chan struct{}
	Poisoned    bool
	Fingerprint string // scan fingerprint, used by GroupScheduler
}

// taskHeap is a container/heap.Interface ordering tasks by ChunkID
// ascending, breaking ties by arrival order (EntryTime).
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].ChunkID != h[j].ChunkID {
		return h[i].ChunkID < h[j].ChunkID
	}
	return h[i].EntryTime < h[j].EntryTime
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func newTaskHeap() *taskHeap {
	h := &taskHeap{}
	heap.Init(h)
	return h
}
