package engine

import "context"

// Stream is a cancellable pull iterator over one Generate call. The producer
// runs in its own goroutine and blocks until the consumer takes each
// fragment, so fragments are observed in emission order and never buffered.
//
// A Stream has a single consumer. Callers that stop before Next reports the
// end must call Close.
type Stream struct {
	frags  chan string
	cancel context.CancelFunc
	err    error // written before frags is closed
}

// Start begins generation of prompt on e.
func Start(ctx context.Context, e Engine, prompt string) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{frags: make(chan string), cancel: cancel}
	go func() {
		err := e.Generate(ctx, prompt, func(frag string) error {
			select {
			case s.frags <- frag:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		cancel()
		s.err = wrap("generate", err)
		close(s.frags)
	}()
	return s
}

// Next blocks for the next fragment. ok is false once the stream has ended,
// after which Err reports how it ended.
func (s *Stream) Next() (frag string, ok bool) {
	frag, ok = <-s.frags
	return frag, ok
}

// Err returns the generation error. Only valid after Next returned ok=false.
func (s *Stream) Err() error { return s.err }

// Close cancels generation and waits for the producer to finish.
func (s *Stream) Close() {
	s.cancel()
	for range s.frags {
	}
}
