package sampler

import (
	"io"
	"sync"

	"github.com/jonboulle/clockwork"
)

// session is the resource bundle of one sampling run. Its stream and
// analyser are owned by the session and released exactly once.
type session struct {
	gen      uint64
	stream   io.ReadCloser
	analyser Analyser
	ticker   clockwork.Ticker
	buf      []uint8

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func newSession(gen uint64, stream io.ReadCloser, analyser Analyser, ticker clockwork.Ticker) *session {
	return &session{
		gen:      gen,
		stream:   stream,
		analyser: analyser,
		ticker:   ticker,
		buf:      make([]uint8, analyser.FrequencyBinCount()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// release stops the ticker and closes the stream. It reports whether this
// call did the release.
func (s *session) release() bool {
	released := false
	s.once.Do(func() {
		released = true
		close(s.stop)
		s.ticker.Stop()
		closeStream(s.stream)
	})
	return released
}

func (s *session) released() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// wait blocks until the tick loop has exited.
func (s *session) wait() {
	<-s.done
}
