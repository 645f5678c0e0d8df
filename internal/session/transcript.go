package session

import (
	"errors"
	"sync"
)

// Origin identifies who authored a Turn.
type Origin int

const (
	OriginUser Origin = iota
	OriginAssistant
	// OriginSystem marks notes written by the session itself: load
	// confirmations, benchmark output, failures.
	OriginSystem
)

func (o Origin) String() string {
	switch o {
	case OriginUser:
		return "user"
	case OriginAssistant:
		return "assistant"
	case OriginSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Turn is one transcript entry. Position is assigned on append and never reused.
type Turn struct {
	Position int64
	Origin   Origin
	Text     string
	Open     bool
}

var (
	ErrTurnOpen   = errors.New("an assistant turn is still open")
	ErrNoOpenTurn = errors.New("no open assistant turn")
)

// Transcript is an append-only log of turns. Only the single open Assistant
// turn may change after it is appended. Readers get copies taken under the
// same lock fragments are applied with.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
	next  int64
	open  int // index into turns, -1 when none
}

func NewTranscript() *Transcript { return &Transcript{open: -1} }

// Append adds a closed turn and returns it.
func (t *Transcript) Append(origin Origin, text string) Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn := Turn{Position: t.next, Origin: origin, Text: text}
	t.next++
	t.turns = append(t.turns, turn)
	return turn
}

// OpenAssistant appends an empty open Assistant turn.
func (t *Transcript) OpenAssistant() (Turn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open >= 0 {
		return Turn{}, ErrTurnOpen
	}
	turn := Turn{Position: t.next, Origin: OriginAssistant, Open: true}
	t.next++
	t.turns = append(t.turns, turn)
	t.open = len(t.turns) - 1
	return turn, nil
}

// AppendFragment concatenates text onto the open turn.
func (t *Transcript) AppendFragment(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open < 0 {
		return ErrNoOpenTurn
	}
	t.turns[t.open].Text += text
	return nil
}

// OpenText returns the content accumulated so far in the open turn.
func (t *Transcript) OpenText() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.open < 0 {
		return "", false
	}
	return t.turns[t.open].Text, true
}

// CloseOpenTurn freezes the open turn, if any. Safe to call repeatedly.
func (t *Transcript) CloseOpenTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open < 0 {
		return
	}
	t.turns[t.open].Open = false
	t.open = -1
}

// Snapshot returns a copy of all turns in append order.
func (t *Transcript) Snapshot() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Last returns the most recent turn.
func (t *Transcript) Last() (Turn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// Clear drops every turn. Positions keep increasing afterwards.
func (t *Transcript) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open >= 0 {
		return ErrTurnOpen
	}
	t.turns = nil
	return nil
}
