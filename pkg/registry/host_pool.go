package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/commsutil"
	"github.com/morezero/remoting/pkg/errs"
)

const hostPoolLogPrefix = "registry:host_pool"

// HostDirectory maps host IDs to COMMS servers outside the local cluster.
type HostDirectory interface {
	CommsURLFor(hostID string) (string, bool)
}

// HostPool is a channel.Transport that reaches hosts listed in the remote
// hosts table over their own COMMS connection and every other host over the
// local transport. Connections are opened on first use and kept.
type HostPool struct {
	local   channel.Transport
	dir     HostDirectory
	name    string
	timeout time.Duration

	mu          sync.RWMutex
	connections map[string]*hostConnection
}

type hostConnection struct {
	nc          *comms.Conn
	transport   *channel.NATSTransport
	commsURL    string
	connectedAt time.Time
}

// NewHostPool creates a pool. name prefixes the COMMS connection names.
func NewHostPool(local channel.Transport, dir HostDirectory, name string, timeout time.Duration) *HostPool {
	return &HostPool{
		local:       local,
		dir:         dir,
		name:        name,
		timeout:     timeout,
		connections: make(map[string]*hostConnection),
	}
}

// CreateMessageSink returns a sink for url, routed through the host's own
// COMMS server when it has one.
func (p *HostPool) CreateMessageSink(url string) (channel.MessageSink, error) {
	hostID, _, err := commsutil.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidArgument, url, err, "not a remoting channel url")
	}
	commsURL, ok := p.dir.CommsURLFor(hostID)
	if !ok {
		return p.local.CreateMessageSink(url)
	}
	t, err := p.getOrConnect(hostID, commsURL)
	if err != nil {
		return nil, errs.Wrap(errs.CodeActivationConnectFailed, url, err, "remote host %s unavailable", hostID)
	}
	return t.CreateMessageSink(url)
}

// Listen serves this host on the local transport.
func (p *HostPool) Listen(hostID string, h channel.Handler) (channel.Listener, error) {
	return p.local.Listen(hostID, h)
}

// getOrConnect returns the transport for hostID, reconnecting when the
// connection dropped or the host moved to another COMMS server.
func (p *HostPool) getOrConnect(hostID, commsURL string) (*channel.NATSTransport, error) {
	p.mu.RLock()
	if hc, ok := p.connections[hostID]; ok && hc.commsURL == commsURL && hc.nc.IsConnected() {
		p.mu.RUnlock()
		return hc.transport, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if hc, ok := p.connections[hostID]; ok && hc.commsURL == commsURL && hc.nc.IsConnected() {
		return hc.transport, nil
	}

	if hc, ok := p.connections[hostID]; ok {
		hc.nc.Close()
		delete(p.connections, hostID)
	}

	slog.Info(fmt.Sprintf("%s - Connecting to remote host=%s url=%s", hostPoolLogPrefix, hostID, commsURL))
	nc, err := commsutil.Connect(commsURL, fmt.Sprintf("%s-remote-%s", p.name, hostID),
		comms.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}

	hc := &hostConnection{
		nc:          nc,
		transport:   channel.NewNATSTransport(nc, p.timeout),
		commsURL:    commsURL,
		connectedAt: time.Now(),
	}
	p.connections[hostID] = hc
	return hc.transport, nil
}

// Connected returns the IDs of hosts with an open pooled connection.
func (p *HostPool) Connected() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.connections))
	for id, hc := range p.connections {
		if hc.nc.IsConnected() {
			out = append(out, id)
		}
	}
	return out
}

// CloseAll closes all pooled connections. The local transport is left open.
func (p *HostPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for hostID, hc := range p.connections {
		slog.Info(fmt.Sprintf("%s - Closing connection host=%s", hostPoolLogPrefix, hostID))
		hc.nc.Close()
	}
	p.connections = make(map[string]*hostConnection)
}
