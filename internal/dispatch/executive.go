package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/exp/slices"

	"github.com/dreamware/qserv-go/internal/resource"
	"github.com/dreamware/qserv-go/internal/wire"
)

// ResponseRequester is the C9 attachment point: each framed response
// buffer a job receives is delivered here in order.
type ResponseRequester interface {
	Deliver(jobKey JobKey, header wire.ProtoHeader, payload []byte) error
}

// JobKey identifies one job within an executive: a chunk id and the
// index of its fragment within that chunk's fragment list.
type JobKey struct {
	ChunkID       int
	FragmentIndex int
}

// CancelledError is returned by in-flight requester callbacks once the
// owning executive has been cancelled.
type CancelledError struct{}

func (CancelledError) Error() string { return "dispatch: query cancelled" }

// Job is one executive-owned unit of work: a fragment destined for one
// chunk resource, its status, and the payload to submit once
// provisioned.
type Job struct {
	Key      JobKey
	Db       string
	Status   *JobStatus
	Payload  []byte // a wire.TaskMsg.Marshal() result
}

// Executive owns every job for one user query: it dispatches each job
// over a Transport, retries transient provisioning failures with
// bounded backoff, and forwards response buffers to the attached
// ResponseRequester until every job finishes or the query is
// cancelled.
type Executive struct {
	transport  Transport
	requester  ResponseRequester
	cancelled  atomic.Bool

	mu   sync.Mutex
	jobs map[JobKey]*Job
}

// NewExecutive returns an Executive dispatching over transport and
// forwarding response buffers to requester.
func NewExecutive(transport Transport, requester ResponseRequester) *Executive {
	return &Executive{transport: transport, requester: requester, jobs: make(map[JobKey]*Job)}
}

// AddJob registers a job for chunkID/fragmentIndex with the given
// database and fragment payload, returning the new Job.
func (e *Executive) AddJob(db string, chunkID, fragmentIndex int, payload []byte) *Job {
	key := JobKey{ChunkID: chunkID, FragmentIndex: fragmentIndex}
	res := resource.Path{Kind: resource.Chunk, Db: db, ChunkID: chunkID}
	job := &Job{Key: key, Db: db, Status: NewJobStatus(res.String()), Payload: payload}

	e.mu.Lock()
	e.jobs[key] = job
	e.mu.Unlock()
	return job
}

// Cancel idempotently sets the cancelled flag; all subsequent state
// transitions on owned jobs become no-ops and in-flight Run calls
// return CancelledError at their next checkpoint.
func (e *Executive) Cancel() {
	e.cancelled.Store(true)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		j.Status.Set(Cancelled, 0, "cancelled")
	}
}

// IsCancelled reports the executive's cancellation flag.
func (e *Executive) IsCancelled() bool { return e.cancelled.Load() }

// Jobs returns every job the executive owns, ordered by chunk id then
// fragment index so logging and tests see a stable sequence despite
// the underlying map's randomized iteration order.
func (e *Executive) Jobs() []*Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b *Job) int {
		if a.Key.ChunkID != b.Key.ChunkID {
			return a.Key.ChunkID - b.Key.ChunkID
		}
		return a.Key.FragmentIndex - b.Key.FragmentIndex
	})
	return out
}

// HasJob reports whether job key is already registered with the
// executive.
func (e *Executive) HasJob(key JobKey) bool {
	return slices.ContainsFunc(e.Jobs(), func(j *Job) bool { return j.Key == key })
}

// Run executes one job to completion: provision with retry, submit,
// then stream response buffers to the requester until a frame with
// EndNoData set has been delivered or an error occurs.
func (e *Executive) Run(ctx context.Context, job *Job) error {
	if e.IsCancelled() {
		job.Status.Set(Cancelled, 0, "cancelled before start")
		return CancelledError{}
	}

	job.Status.Set(Provision, 0, "")
	conn, err := e.provisionWithRetry(ctx, job)
	if err != nil {
		job.Status.Set(ProvisionError, 0, err.Error())
		return err
	}
	defer conn.Close()
	job.Status.Set(ProvisionOK, 0, "")

	if e.IsCancelled() {
		return CancelledError{}
	}

	job.Status.Set(Request, 0, "")
	if err := conn.Send(job.Payload); err != nil {
		job.Status.Set(RequestError, 0, err.Error())
		return err
	}

	for {
		if e.IsCancelled() {
			return CancelledError{}
		}
		header, payload, err := conn.Recv()
		if err != nil {
			job.Status.Set(ResponseError, 0, err.Error())
			return err
		}
		job.Status.Set(ResponseReady, 0, "")
		job.Status.Set(ResponseData, 0, "")
		if err := e.requester.Deliver(job.Key, header, payload); err != nil {
			job.Status.Set(ResultError, 0, err.Error())
			return err
		}
		if header.EndNoData {
			job.Status.Set(ResponseDone, 0, "")
			job.Status.Set(MergeOK, 0, "")
			job.Status.Set(Complete, 0, "")
			return nil
		}
	}
}

// provisionWithRetry dials job's chunk resource, retrying with bounded
// exponential backoff while the transport reports ProvisionNackError.
func (e *Executive) provisionWithRetry(ctx context.Context, job *Job) (Conn, error) {
	res := resource.Path{Kind: resource.Chunk, Db: job.Db, ChunkID: job.Key.ChunkID}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	bctx := backoff.WithContext(bo, ctx)

	var conn Conn
	op := func() error {
		if e.IsCancelled() {
			return backoff.Permanent(CancelledError{})
		}
		c, err := e.transport.Dial(ctx, res.String())
		if err != nil {
			if _, ok := err.(ProvisionNackError); ok {
				job.Status.Set(ProvisionNack, 0, err.Error())
				return err
			}
			return backoff.Permanent(err)
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, bctx); err != nil {
		return nil, fmt.Errorf("dispatch: provision %s: %w", res.String(), err)
	}
	return conn, nil
}
