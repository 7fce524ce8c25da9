package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
)

const DefaultThreadPollInterval = 3 * time.Second

// ThreadPoller refreshes an open thread on a fixed interval. Thread
// replies are not pushed, so this is how a thread view stays current.
type ThreadPoller struct {
	api      API
	rootID   uuid.UUID
	interval time.Duration
	onUpdate func([]domain.Message)
	logger   *slog.Logger

	mu      sync.RWMutex
	replies []domain.Message

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartThreadPoller polls once right away and then every interval until
// Stop is called or ctx ends. A failed poll is skipped; the next tick
// tries again.
func StartThreadPoller(ctx context.Context, api API, rootID uuid.UUID, interval time.Duration, onUpdate func([]domain.Message), logger *slog.Logger) *ThreadPoller {
	if interval <= 0 {
		interval = DefaultThreadPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &ThreadPoller{
		api:      api,
		rootID:   rootID,
		interval: interval,
		onUpdate: onUpdate,
		logger:   logger.With("component", "thread_poller", "root_id", rootID),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

func (p *ThreadPoller) RootID() uuid.UUID { return p.rootID }

func (p *ThreadPoller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *ThreadPoller) poll(ctx context.Context) {
	replies, err := p.api.ListReplies(ctx, p.rootID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("thread_poll_skipped", "error", err)
		}
		return
	}

	p.mu.Lock()
	p.replies = replies
	p.mu.Unlock()

	if p.onUpdate != nil && ctx.Err() == nil {
		p.onUpdate(replies)
	}
}

// Replies returns the result of the last successful poll.
func (p *ThreadPoller) Replies() []domain.Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.Message(nil), p.replies...)
}

// Stop cancels polling and waits for the loop to exit.
func (p *ThreadPoller) Stop() {
	p.once.Do(p.cancel)
	<-p.done
}
