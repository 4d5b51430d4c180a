package dispatch

import (
	"context"
	"fmt"

	"github.com/driftline/driftline/internal/resource"
	"github.com/driftline/driftline/internal/syncerr"
)

// Local is an in-process transport over a set of endpoints. It carries
// the same semantics a network transport would: requests for unknown
// entities or methods fail, taxonomy errors pass through unchanged.
type Local struct {
	endpoints map[string]*resource.Endpoint
}

// NewLocal builds a local transport serving the given endpoints.
func NewLocal(endpoints ...*resource.Endpoint) (*Local, error) {
	l := &Local{endpoints: make(map[string]*resource.Endpoint, len(endpoints))}
	for _, ep := range endpoints {
		name := ep.Definition().Name
		if _, ok := l.endpoints[name]; ok {
			return nil, fmt.Errorf("duplicate endpoint for entity %q", name)
		}
		l.endpoints[name] = ep
	}
	return l, nil
}

// Call implements Transport.
func (l *Local) Call(ctx context.Context, req Request) (Response, error) {
	ep, ok := l.endpoints[req.Entity]
	if !ok {
		return Response{}, syncerr.Newf(syncerr.CodeTransport, "no endpoint for entity %q", req.Entity)
	}

	var (
		res resource.WriteResult
		err error
	)
	switch req.Method {
	case MethodCreate:
		res, err = ep.Create(ctx, req.Principal, req.Payload)
	case MethodUpdate:
		res, err = ep.Update(ctx, req.Principal, req.Key, req.Payload)
	case MethodDelete:
		res, err = ep.Delete(ctx, req.Principal, req.Key)
	default:
		return Response{}, syncerr.Newf(syncerr.CodeTransport, "unknown method %d", req.Method)
	}
	if err != nil {
		return Response{}, err
	}
	return Response{Key: res.Key, TxnID: res.TxnID}, nil
}
