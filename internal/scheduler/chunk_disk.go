package scheduler

import (
	"container/heap"
	"sync"
)

// Scheduler is the interface both ScanScheduler and GroupScheduler
// satisfy: enqueue admitted work, and pull the next runnable batch.
type Scheduler interface {
	Enqueue(t *Task)
	GetNextTasks(available int) []*Task
	RunningCount() int
}

// ScanScheduler is one chunk disk: two priority queues of tasks (active,
// pending) ordered by chunk id ascending, a running-task bound, and an
// admission rule that advances the scan position at most once per
// GetNextTasks call.
type ScanScheduler struct {
	mu      sync.Mutex
	active  *taskHeap
	pending *taskHeap

	currentChunkID int
	maxRunning     int
	running        int
	cond           *sync.Cond
}

// NewScanScheduler returns a ScanScheduler admitting at most maxRunning
// concurrent tasks, with no current chunk (currentChunkID == -1).
func NewScanScheduler(maxRunning int) *ScanScheduler {
	s := &ScanScheduler{
		active:         newTaskHeap(),
		pending:        newTaskHeap(),
		currentChunkID: -1,
		maxRunning:     maxRunning,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue places t in active if its chunk id is >= the current scan
// position (or no scan is in progress), else in pending. When active
// was empty, enqueue wakes any blocked getNext caller.
func (s *ScanScheduler) Enqueue(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasEmpty := s.active.Len() == 0

	if s.currentChunkID >= 0 && t.ChunkID < s.currentChunkID {
		heap.Push(s.pending, t)
	} else {
		heap.Push(s.active, t)
	}
	if wasEmpty {
		s.cond.Broadcast()
	}
}

// swapQueuesLocked atomically exchanges active and pending and resets
// the scan position, per "when active empties, swap the two queues".
// Caller must hold s.mu.
func (s *ScanScheduler) swapQueuesLocked() {
	s.active, s.pending = s.pending, s.active
	s.currentChunkID = -1
}

// GetNextTasks admits up to `available` tasks for this scheduling
// cycle, further capped by maxRunning so the scheduler never runs more
// than it was configured for regardless of what the caller passes: it
// first drains every active task whose chunk id equals the current
// scan position, and — if the disk is otherwise idle and active is
// non-empty — advances the scan exactly once to the next lowest chunk
// id and admits tasks at that new position too. At most one "new
// chunk" admission happens per call.
func (s *ScanScheduler) GetNextTasks(available int) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.Len() == 0 && s.pending.Len() > 0 {
		s.swapQueuesLocked()
	}

	var out []*Task
	budget := available - s.running
	if fromMax := s.maxRunning - s.running; fromMax < budget {
		budget = fromMax
	}
	if budget <= 0 {
		return nil
	}

	drainCurrent := func() {
		for s.active.Len() > 0 && len(out) < budget {
			top := (*s.active)[0]
			if top.ChunkID != s.currentChunkID {
				break
			}
			out = append(out, heap.Pop(s.active).(*Task))
		}
	}

	if s.currentChunkID >= 0 {
		drainCurrent()
	}

	advanced := false
	if s.running == 0 && s.active.Len() > 0 && !advanced {
		top := (*s.active)[0]
		if s.currentChunkID < 0 || top.ChunkID != s.currentChunkID {
			s.currentChunkID = top.ChunkID
			advanced = true
			drainCurrent()
		}
	}

	s.running += len(out)
	return out
}

// Complete marks n previously-admitted tasks as finished, freeing
// running slots and, if the active queue is now empty, swapping in the
// pending queue so the next GetNextTasks call can progress.
func (s *ScanScheduler) Complete(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running -= n
	if s.running < 0 {
		s.running = 0
	}
	if s.active.Len() == 0 && s.pending.Len() > 0 {
		s.swapQueuesLocked()
	}
	s.cond.Broadcast()
}

// RunningCount returns the current in-flight task count.
func (s *ScanScheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

var _ Scheduler = (*ScanScheduler)(nil)
