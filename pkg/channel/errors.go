package channel

import (
	"errors"

	"github.com/morezero/remoting/pkg/errs"
)

// CodeUserCode marks a failure raised by user code on the remote host.
const CodeUserCode = "USER_CODE"

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Target    string `json:"target,omitempty"`
	TypeName  string `json:"typeName,omitempty"`
	Member    string `json:"member,omitempty"`
	Retryable bool   `json:"retryable"`
}

// DetailFromError converts err to its wire form, keeping user-code failures
// distinguishable from infrastructure failures.
func DetailFromError(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	var u *errs.UserCodeError
	if errors.As(err, &u) {
		msg := ""
		if u.Err != nil {
			msg = u.Err.Error()
		}
		return &ErrorDetail{Code: CodeUserCode, Message: msg, TypeName: u.TypeName, Member: u.Member}
	}
	var e *errs.Error
	if errors.As(err, &e) {
		msg := e.Message
		if e.Err != nil {
			if msg != "" {
				msg += ": "
			}
			msg += e.Err.Error()
		}
		return &ErrorDetail{
			Code:      string(e.Code),
			Message:   msg,
			Target:    e.Target,
			Retryable: e.Code == errs.CodeInternal || e.Code == errs.CodeActivationConnectFailed,
		}
	}
	return &ErrorDetail{Code: string(errs.CodeInternal), Message: err.Error(), Retryable: true}
}

// Err rebuilds the error a detail was made from.
func (d *ErrorDetail) Err() error {
	if d == nil {
		return nil
	}
	if d.Code == CodeUserCode {
		return &errs.UserCodeError{TypeName: d.TypeName, Member: d.Member, Err: errors.New(d.Message)}
	}
	return &errs.Error{Code: errs.Code(d.Code), Message: d.Message, Target: d.Target}
}

// ErrorResponse builds a failed response for err.
func ErrorResponse(id string, err error) *Response {
	return &Response{ID: id, Ok: false, Error: DetailFromError(err)}
}
