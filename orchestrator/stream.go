package orchestrator

import (
	"context"
	"strings"
	"sync"
)

// Fragment is one piece of a streamed answer. The last fragment has End set
// and carries the complete message, including any payload.
type Fragment struct {
	Text    string
	End     bool
	Message *OutgoingMessage
	Err     error
}

// Stream is a pull-based sequence of fragments. Consumers call Next until it
// reports false and call Close when they stop early.
type Stream struct {
	ch   chan Fragment
	done chan struct{}
	once sync.Once
}

func newStream() *Stream {
	return &Stream{ch: make(chan Fragment), done: make(chan struct{})}
}

// Next returns the next fragment. It reports false once the stream ended,
// was closed or ctx is done.
func (s *Stream) Next(ctx context.Context) (Fragment, bool) {
	select {
	case <-s.done:
		return Fragment{}, false
	default:
	}
	select {
	case f, ok := <-s.ch:
		return f, ok
	case <-s.done:
		return Fragment{}, false
	case <-ctx.Done():
		return Fragment{}, false
	}
}

// Close stops delivery. The turn itself still completes.
func (s *Stream) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Stream) send(f Fragment) bool {
	select {
	case s.ch <- f:
		return true
	case <-s.done:
		return false
	}
}

// HandleStream runs a turn and streams its answer. The turn runs on a
// context detached from ctx: a disconnecting client discards the output but
// session and booking state still reach a consistent end.
func (r *Router) HandleStream(ctx context.Context, userID, text string) *Stream {
	s := newStream()
	turnCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(s.ch)

		msg, err := r.Handle(turnCtx, userID, text)
		if err != nil {
			s.send(Fragment{End: true, Err: err})
			return
		}
		for _, part := range splitFragments(msg.Text, r.opts.FragmentWords) {
			if !s.send(Fragment{Text: part}) {
				r.logger.Debug("router.stream.discarded", "session_id", msg.SessionID)
				return
			}
		}
		s.send(Fragment{End: true, Message: &msg})
	}()

	return s
}

// splitFragments cuts text after every n words, keeping whitespace so the
// fragments concatenate to the original text.
func splitFragments(text string, n int) []string {
	parts := strings.SplitAfter(text, " ")
	var out []string
	for i := 0; i < len(parts); i += n {
		chunk := strings.Join(parts[i:min(i+n, len(parts))], "")
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}
