package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/qserv-go/internal/wire"
)

// fakeConn replays a fixed sequence of frames then returns io.EOF-like
// errors, and records whether it was closed.
type fakeConn struct {
	frames []fakeFrame
	idx    int
	closed bool
	sent   [][]byte
}

type fakeFrame struct {
	header wire.ProtoHeader
	body   []byte
}

func (c *fakeConn) Send(payload []byte) error {
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) Recv() (wire.ProtoHeader, []byte, error) {
	if c.idx >= len(c.frames) {
		return wire.ProtoHeader{}, nil, assert.AnError
	}
	f := c.frames[c.idx]
	c.idx++
	return f.header, f.body, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeTransport struct {
	mu      sync.Mutex
	nacks   int
	conn    *fakeConn
	dialErr error
}

func (t *fakeTransport) Dial(ctx context.Context, resource string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nacks > 0 {
		t.nacks--
		return nil, ProvisionNackError{Resource: resource}
	}
	return t.conn, nil
}

type collectingRequester struct {
	mu        sync.Mutex
	delivered []wire.ProtoHeader
}

func (r *collectingRequester) Deliver(key JobKey, header wire.ProtoHeader, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, header)
	return nil
}

func TestExecutiveRunDeliversFramesAndCompletes(t *testing.T) {
	conn := &fakeConn{frames: []fakeFrame{
		{header: wire.ProtoHeader{EndNoData: true}, body: []byte("rows")},
	}}
	transport := &fakeTransport{conn: conn}
	req := &collectingRequester{}
	exec := NewExecutive(transport, req)

	job := exec.AddJob("LSST", 42, 0, []byte("task-payload"))
	err := exec.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, Complete, job.Status.Get().State)
	assert.True(t, conn.closed)
	require.Len(t, req.delivered, 1)
	assert.Len(t, conn.sent, 1)
}

func TestExecutiveRetriesProvisionNack(t *testing.T) {
	conn := &fakeConn{frames: []fakeFrame{{header: wire.ProtoHeader{EndNoData: true}}}}
	transport := &fakeTransport{conn: conn, nacks: 2}
	req := &collectingRequester{}
	exec := NewExecutive(transport, req)

	job := exec.AddJob("LSST", 1, 0, nil)
	err := exec.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, Complete, job.Status.Get().State)
}

func TestExecutiveCancelStopsBeforeStart(t *testing.T) {
	transport := &fakeTransport{conn: &fakeConn{}}
	req := &collectingRequester{}
	exec := NewExecutive(transport, req)
	job := exec.AddJob("LSST", 1, 0, nil)

	exec.Cancel()
	err := exec.Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, Cancelled, job.Status.Get().State)
}

func TestJobsReturnsStableChunkOrder(t *testing.T) {
	transport := &fakeTransport{conn: &fakeConn{}}
	exec := NewExecutive(transport, &collectingRequester{})

	exec.AddJob("LSST", 42, 1, nil)
	exec.AddJob("LSST", 7, 0, nil)
	exec.AddJob("LSST", 7, 2, nil)

	jobs := exec.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, JobKey{ChunkID: 7, FragmentIndex: 0}, jobs[0].Key)
	assert.Equal(t, JobKey{ChunkID: 7, FragmentIndex: 2}, jobs[1].Key)
	assert.Equal(t, JobKey{ChunkID: 42, FragmentIndex: 1}, jobs[2].Key)
}

func TestHasJobReflectsRegisteredKeys(t *testing.T) {
	transport := &fakeTransport{conn: &fakeConn{}}
	exec := NewExecutive(transport, &collectingRequester{})
	exec.AddJob("LSST", 9, 0, nil)

	assert.True(t, exec.HasJob(JobKey{ChunkID: 9, FragmentIndex: 0}))
	assert.False(t, exec.HasJob(JobKey{ChunkID: 9, FragmentIndex: 1}))
}
