package activation

import (
	"context"
	"strings"

	"github.com/morezero/remoting/pkg/errs"
)

// Level orders activators by proximity to the final construction.
type Level int

const (
	LevelRemote Level = iota
	LevelAppDomain
	LevelContext
	LevelConstruction
)

func (l Level) String() string {
	switch l {
	case LevelRemote:
		return "Remote"
	case LevelAppDomain:
		return "AppDomain"
	case LevelContext:
		return "Context"
	case LevelConstruction:
		return "Construction"
	default:
		return "Unknown"
	}
}

// ParseLevel parses a level name as produced by String.
func ParseLevel(s string) (Level, bool) {
	for l := LevelRemote; l <= LevelConstruction; l++ {
		if strings.EqualFold(s, l.String()) {
			return l, true
		}
	}
	return 0, false
}

// Activator is one link of the activation chain.
type Activator interface {
	Level() Level
	Next() Activator
	SetNext(Activator)
	// Activate detaches the activator from call.Activator, does its work and
	// either delegates to the rest of the chain or returns a terminal result.
	Activate(ctx context.Context, call *ConstructionCall) *ConstructionReturn
}

// Splice inserts node after every node whose level is <= node's level and
// returns the new head. Walking the result from the head yields non-decreasing
// levels. A chain holds at most one construction-level node; splicing a second
// one is BAD_INTERNAL_STATE and leaves the chain unchanged.
func Splice(head, node Activator) (Activator, error) {
	if node == nil {
		return head, errs.New(errs.CodeBadInternalState, "cannot splice a nil activator")
	}
	if node.Level() == LevelConstruction {
		for a := head; a != nil; a = a.Next() {
			if a.Level() == LevelConstruction {
				return head, errs.New(errs.CodeBadInternalState, "chain already has a construction-level activator")
			}
		}
	}
	if head == nil {
		node.SetNext(nil)
		return node, nil
	}
	if head.Level() > node.Level() {
		node.SetNext(head)
		return node, nil
	}
	prev := head
	for next := prev.Next(); next != nil && next.Level() <= node.Level(); next = prev.Next() {
		prev = next
	}
	node.SetNext(prev.Next())
	prev.SetNext(node)
	return head, nil
}

// Levels lists the levels of the chain starting at head.
func Levels(head Activator) []Level {
	var out []Level
	for a := head; a != nil; a = a.Next() {
		out = append(out, a.Level())
	}
	return out
}

// ActivateChain runs the chain held by call. An exhausted chain is a
// protocol violation, never a nil result.
func ActivateChain(ctx context.Context, call *ConstructionCall) *ConstructionReturn {
	if call == nil || call.Activator == nil {
		return faultf(errs.CodeBadInternalState, "activator chain exhausted before construction")
	}
	ret := call.Activator.Activate(ctx, call)
	if ret == nil {
		return faultf(errs.CodeBadInternalState, "activator returned no result")
	}
	return ret
}

// detach pops a from the head of the chain and records that it ran.
func detach(call *ConstructionCall, a Activator) error {
	if call.Activator != a {
		return errs.New(errs.CodeBadInternalState, "%s activator is not at the head of the chain", a.Level())
	}
	call.Activator = a.Next()
	call.trace = append(call.trace, a.Level())
	return nil
}
