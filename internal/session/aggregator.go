package session

import (
	"context"
	"errors"

	"llamachat/internal/engine"
)

// Outcome is how a generation ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Consume pulls every fragment from s into the open turn of t, calling
// onFragment after each one is applied, then closes the turn. A generation
// failure is folded into the turn as its final content, reported to
// onFragment like any other fragment and returned.
// Cancellation keeps whatever was accumulated and is not an error.
func Consume(s *engine.Stream, t *Transcript, onFragment func(string)) (Outcome, error) {
	defer t.CloseOpenTurn()
	for {
		frag, ok := s.Next()
		if !ok {
			break
		}
		if err := t.AppendFragment(frag); err != nil {
			s.Close()
			return OutcomeFailed, err
		}
		if onFragment != nil {
			onFragment(frag)
		}
	}
	err := s.Err()
	switch {
	case err == nil:
		return OutcomeCompleted, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled, nil
	}
	msg := err.Error()
	if text, ok := t.OpenText(); ok && text != "" {
		msg = "\n" + msg
	}
	if t.AppendFragment(msg) == nil && onFragment != nil {
		onFragment(msg)
	}
	return OutcomeFailed, err
}
