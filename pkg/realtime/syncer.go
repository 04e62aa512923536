package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Syncer keeps a Channel bound to whichever user is logged in. Updates are
// coalesced: only the latest requested user matters, and Bind/Close run on
// the Syncer's own goroutine, never on the caller's.
type Syncer struct {
	ch     *Channel
	logger *zap.Logger

	mu   sync.Mutex
	want chan string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncer returns a stopped Syncer for ch.
func NewSyncer(ch *Channel, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{ch: ch, logger: logger, want: make(chan string, 1)}
}

// Update requests that the channel follow userID; "" closes it. It never
// blocks.
func (s *Syncer) Update(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.want:
	default:
	}
	s.want <- userID
}

// Start runs the worker until ctx is done or Stop is called.
func (s *Syncer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop ends the worker and closes the channel.
func (s *Syncer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.ch.Close()
}

func (s *Syncer) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-s.want:
			if userID == "" {
				s.ch.Close()
				continue
			}
			if err := s.ch.Bind(ctx, userID); err != nil {
				s.logger.Warn("realtime bind failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}
}
