// Package feed provides the push-based signal feed adapter. Deployments
// whose feed publishes over a websocket run this alongside (or instead of)
// the feed database polling; both serve the same ListCandidates contract.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"signalexecutor/src/externalmodel"
)

const (
	defaultBufferSize   = 512
	reconnectBaseDelay  = 1 * time.Second
	reconnectMaxBackoff = 30 * time.Second
)

// StreamingFeed consumes signals pushed over a websocket and buffers them
// so orchestration passes can read candidates without blocking on the
// stream.
type StreamingFeed struct {
	logger    *logrus.Entry
	url       string
	maxBuffer int

	mu     sync.RWMutex
	buffer []externalmodel.Signal
}

func NewStreamingFeed(logger *logrus.Entry, url string) *StreamingFeed {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &StreamingFeed{
		logger:    logger,
		url:       url,
		maxBuffer: defaultBufferSize,
	}
}

// Run connects to the feed endpoint and consumes signals until the context
// is canceled, reconnecting with exponential backoff on any stream error.
func (f *StreamingFeed) Run(ctx context.Context) {
	delay := reconnectBaseDelay

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			f.logger.WithError(err).WithField("delay", delay.String()).
				Warn("Feed connection failed, backing off")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > reconnectMaxBackoff {
				delay = reconnectMaxBackoff
			}
			continue
		}

		f.logger.WithField("url", f.url).Info("Feed stream connected")
		delay = reconnectBaseDelay

		f.consume(ctx, conn)
		_ = conn.Close()
	}
}

func (f *StreamingFeed) consume(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadJSON when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var signal externalmodel.Signal
		if err := conn.ReadJSON(&signal); err != nil {
			if ctx.Err() == nil {
				f.logger.WithError(err).Warn("Feed stream read failed, reconnecting")
			}
			return
		}

		f.ingest(signal)
	}
}

func (f *StreamingFeed) ingest(signal externalmodel.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buffer = append(f.buffer, signal)
	if len(f.buffer) > f.maxBuffer {
		f.buffer = f.buffer[len(f.buffer)-f.maxBuffer:]
	}
}

// ListCandidates returns the buffered signals created at or after the given
// time, oldest first. The feed is account-agnostic; per-account shaping is
// the eligibility filter's job.
func (f *StreamingFeed) ListCandidates(_ context.Context, _ uint, since time.Time) ([]externalmodel.Signal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	candidates := make([]externalmodel.Signal, 0, len(f.buffer))
	for _, s := range f.buffer {
		if !s.CreatedAt.Before(since) {
			candidates = append(candidates, s)
		}
	}

	return candidates, nil
}
