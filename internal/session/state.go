package session

import (
	"fmt"

	"llamachat/internal/acquire"
)

// Kind discriminates the variants of State.
type Kind int

const (
	KindUnloaded Kind = iota
	KindLoading
	KindReady
	KindGenerating
	KindBenchmarking
	KindError
)

var kindNames = [...]string{
	KindUnloaded:     "unloaded",
	KindLoading:      "loading",
	KindReady:        "ready",
	KindGenerating:   "generating",
	KindBenchmarking: "benchmarking",
	KindError:        "error",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// State is the session's tagged union. Only the payload field matching Kind
// is meaningful: Descriptor for Loading, Position for Generating, Cause for
// Error.
type State struct {
	Kind       Kind
	Descriptor acquire.Descriptor
	Position   int64
	Cause      error
}

func Unloaded() State                    { return State{Kind: KindUnloaded} }
func Loading(d acquire.Descriptor) State { return State{Kind: KindLoading, Descriptor: d} }
func Ready() State                       { return State{Kind: KindReady} }
func Generating(position int64) State    { return State{Kind: KindGenerating, Position: position} }
func Benchmarking() State                { return State{Kind: KindBenchmarking} }
func Failed(cause error) State           { return State{Kind: KindError, Cause: cause} }

func (s State) String() string {
	switch s.Kind {
	case KindLoading:
		return fmt.Sprintf("loading(%s)", s.Descriptor.Name)
	case KindGenerating:
		return fmt.Sprintf("generating(%d)", s.Position)
	case KindError:
		if s.Cause != nil {
			return fmt.Sprintf("error(%s)", s.Cause)
		}
		return "error"
	default:
		return s.Kind.String()
	}
}
