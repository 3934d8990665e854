// Package dispatch implements the coordinator-side dispatch layer
// (C6): a per-query executive owning one job per (chunkId,
// fragmentIndex), a streaming transport client to worker resources,
// and the per-job state machine that tracks each fragment's progress.
package dispatch

import (
	"sync"
	"time"
)

// State is one node of the per-job state machine.
type State int

const (
	Unknown State = iota
	Provision
	ProvisionError
	ProvisionNack
	ProvisionOK
	Request
	RequestError
	ResponseReady
	ResponseError
	ResponseData
	ResponseDataNack
	ResponseDataError
	ResponseDataErrorOK
	ResponseDataErrorCorrupt
	ResponseDone
	ResultError
	MergeOK
	MergeError
	Cancelled
	Complete
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "UNKNOWN"
	case Provision:
		return "PROVISION"
	case ProvisionError:
		return "PROVISION_ERROR"
	case ProvisionNack:
		return "PROVISION_NACK"
	case ProvisionOK:
		return "PROVISION_OK"
	case Request:
		return "REQUEST"
	case RequestError:
		return "REQUEST_ERROR"
	case ResponseReady:
		return "RESPONSE_READY"
	case ResponseError:
		return "RESPONSE_ERROR"
	case ResponseData:
		return "RESPONSE_DATA"
	case ResponseDataNack:
		return "RESPONSE_DATA_NACK"
	case ResponseDataError:
		return "RESPONSE_DATA_ERROR"
	case ResponseDataErrorOK:
		return "RESPONSE_DATA_ERROR_OK"
	case ResponseDataErrorCorrupt:
		return "RESPONSE_DATA_ERROR_CORRUPT"
	case ResponseDone:
		return "RESPONSE_DONE"
	case ResultError:
		return "RESULT_ERROR"
	case MergeOK:
		return "MERGE_OK"
	case MergeError:
		return "MERGE_ERROR"
	case Cancelled:
		return "CANCELLED"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// terminal reports whether s ends the job's lifecycle (success or
// failure) with no further transitions expected.
func (s State) terminal() bool {
	switch s {
	case Complete, Cancelled, ProvisionError, RequestError, ResponseError,
		ResponseDataError, ResultError, MergeError:
		return true
	default:
		return false
	}
}

// JobStatus is one job's mutex-guarded, timestamped state. All reads
// and writes go through methods that hold the lock, so every state
// transition is mutex-guarded and timestamped.
type JobStatus struct {
	mu        sync.Mutex
	resource  string
	state     State
	stateTime time.Time
	stateCode int
	stateDesc string
}

// NewJobStatus returns a job status for resourceUnit, initialized to
// Unknown.
func NewJobStatus(resourceUnit string) *JobStatus {
	return &JobStatus{resource: resourceUnit, state: Unknown, stateTime: time.Now()}
}

// Resource returns the job's resource name (e.g. "/chk/LSST/1234").
func (j *JobStatus) Resource() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resource
}

// Set transitions the job to state with an associated code/description,
// stamping the transition time. Set is a no-op once the job has
// reached a terminal state, matching cancellation's "subsequent
// transitions become no-ops" rule.
func (j *JobStatus) Set(state State, code int, desc string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.terminal() {
		return
	}
	j.state = state
	j.stateTime = time.Now()
	j.stateCode = code
	j.stateDesc = desc
}

// Snapshot is a point-in-time copy of a JobStatus's fields.
type Snapshot struct {
	Resource  string
	State     State
	StateTime time.Time
	StateCode int
	StateDesc string
}

// Get returns a Snapshot of the job's current state.
func (j *JobStatus) Get() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{Resource: j.resource, State: j.state, StateTime: j.stateTime, StateCode: j.stateCode, StateDesc: j.stateDesc}
}

// IsTerminal reports whether the job has reached a state from which no
// further transitions occur.
func (j *JobStatus) IsTerminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.terminal()
}
