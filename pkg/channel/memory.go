package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/morezero/remoting/pkg/commsutil"
	"github.com/morezero/remoting/pkg/errs"
)

// MemoryTransport connects hosts living in one process. Requests are handed
// to the target host's handler directly.
type MemoryTransport struct {
	mu    sync.RWMutex
	hosts map[string]Handler
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{hosts: make(map[string]Handler)}
}

// CreateMessageSink returns a sink for the host named in url.
func (t *MemoryTransport) CreateMessageSink(url string) (MessageSink, error) {
	hostID, _, err := commsutil.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidArgument, url, err, "not a remoting channel url")
	}
	return &memorySink{t: t, url: url, hostID: hostID}, nil
}

// Listen registers h for hostID.
func (t *MemoryTransport) Listen(hostID string, h Handler) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.hosts[hostID]; ok {
		return nil, fmt.Errorf("%s - host %s is already listening", logPrefix, hostID)
	}
	t.hosts[hostID] = h
	return &memoryListener{t: t, hostID: hostID}, nil
}

type memorySink struct {
	t      *MemoryTransport
	url    string
	hostID string
}

func (s *memorySink) URL() string { return s.url }

func (s *memorySink) Send(ctx context.Context, req *Request) (*Response, error) {
	s.t.mu.RLock()
	h, ok := s.t.hosts[s.hostID]
	s.t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s - no listener for host %s", logPrefix, s.hostID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The receiving host must not see the sender's context values.
	hctx := context.Background()
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		hctx, cancel = context.WithDeadline(hctx, deadline)
		defer cancel()
	}
	if req.Ctx != nil {
		hctx = WithCallContext(hctx, req.Ctx)
	}
	resp := h.Handle(hctx, req)
	if resp != nil {
		resp.ID = req.ID
	}
	return resp, nil
}

type memoryListener struct {
	t      *MemoryTransport
	hostID string
}

func (l *memoryListener) Close() error {
	l.t.mu.Lock()
	delete(l.t.hosts, l.hostID)
	l.t.mu.Unlock()
	return nil
}
