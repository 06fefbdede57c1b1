// Package dispatcher serves the remoting requests a host receives over its channel.
package dispatcher

import (
	"encoding/json"

	"github.com/morezero/remoting/pkg/channel"
	"github.com/morezero/remoting/pkg/errs"
)

// Health status values reported by the "health" method.
const (
	StatusHealthy  = "healthy"
	StatusStarting = "starting"
)

// decodeParams unmarshals the request's params into v. Missing params are
// accepted only when allowEmpty is set.
func decodeParams(req *channel.Request, v any, allowEmpty bool) error {
	if len(req.Params) == 0 {
		if allowEmpty {
			return nil
		}
		return errs.New(errs.CodeInvalidArgument, "%s request carries no params", req.Method)
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return errs.Wrap(errs.CodeInvalidArgument, req.URI, err, "failed to parse %s params", req.Method)
	}
	return nil
}

// requireURI rejects object-addressed requests without a target.
func requireURI(req *channel.Request) error {
	if req.URI == "" {
		return errs.New(errs.CodeInvalidArgument, "%s request names no object", req.Method)
	}
	return nil
}
