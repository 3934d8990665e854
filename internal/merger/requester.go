package merger

import (
	"context"

	"github.com/dreamware/qserv-go/internal/dispatch"
	"github.com/dreamware/qserv-go/internal/wire"
)

// DispatchRequester adapts a Merger to dispatch.ResponseRequester, so an
// Executive can deliver every job's response frames straight into the
// merge session driving the same query. jobKey is accepted but not
// otherwise consulted: completion is tracked by counting end-of-
// fragment frames against the expected fragment count, not by job
// identity.
type DispatchRequester struct {
	Merger *Merger
}

// Deliver satisfies dispatch.ResponseRequester.
func (d DispatchRequester) Deliver(_ dispatch.JobKey, header wire.ProtoHeader, payload []byte) error {
	return d.Merger.mergeFrame(context.Background(), header, payload)
}
