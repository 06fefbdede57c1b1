// Package channel carries remoting requests between hosts.
package channel

import (
	"encoding/json"

	"github.com/morezero/remoting/pkg/contexts"
)

// Request methods understood by a remoting host.
const (
	MethodActivate   = "activate"
	MethodInvoke     = "invoke"
	MethodDisconnect = "disconnect"
	MethodHealth     = "health"
)

// ObjRef is the serialized form of a marshaled object.
type ObjRef struct {
	URI      string `json:"uri"`
	TypeName string `json:"typeName,omitempty"`
	HostID   string `json:"hostId"`
	// URL is the channel data a client connects to.
	URL string `json:"url"`
}

// Request is the JSON envelope sent to a remoting host.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	URI    string          `json:"uri,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Ctx    *CallContext    `json:"ctx,omitempty"`
}

// Response is the JSON envelope a remoting host replies with.
type Response struct {
	ID     string          `json:"id"`
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

// CallContext is the logical call context that flows with a request.
type CallContext struct {
	RequestID string            `json:"requestId,omitempty"`
	CallerID  string            `json:"callerId,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// ActivateParams is the wire form of a construction call.
type ActivateParams struct {
	TypeName          string              `json:"typeName"`
	Args              []json.RawMessage   `json:"args,omitempty"`
	ContextProperties []contexts.Property `json:"contextProperties,omitempty"`
	// Levels lists the activator levels still pending on the caller's chain.
	Levels            []string          `json:"levels,omitempty"`
	Properties        map[string]string `json:"properties,omitempty"`
	ActivateInContext bool              `json:"activateInContext,omitempty"`
}

// ActivateResult carries the reference to the object built by the remote host.
type ActivateResult struct {
	Ref *ObjRef `json:"ref"`
}

// InvokeParams is a method call on a marshaled object.
type InvokeParams struct {
	Member string            `json:"member"`
	Args   []json.RawMessage `json:"args,omitempty"`
}

// InvokeResult carries the return values of an invoked method.
type InvokeResult struct {
	Values []json.RawMessage `json:"values,omitempty"`
}

// HealthResult reports the state of a remoting host.
type HealthResult struct {
	Status     string `json:"status"`
	HostID     string `json:"hostId"`
	Identities int    `json:"identities"`
}
