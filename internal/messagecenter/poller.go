package messagecenter

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default polling intervals.
const (
	// DefaultForegroundPollInterval applies while the conversation is on screen.
	DefaultForegroundPollInterval = 8 * time.Second
	// DefaultBackgroundPollInterval applies otherwise.
	DefaultBackgroundPollInterval = 60 * time.Second
)

// Poller periodically reconciles the local conversation with the server.
// The interval depends on whether the host app reports itself foregrounded.
type Poller struct {
	manager *Manager
	kick    chan struct{}

	mu         sync.Mutex
	foreground bool
	fgInterval time.Duration
	bgInterval time.Duration
}

// NewPoller creates a poller over the given manager. Non-positive intervals
// fall back to the defaults.
func NewPoller(m *Manager, foreground, background time.Duration) *Poller {
	if foreground <= 0 {
		foreground = DefaultForegroundPollInterval
	}
	if background <= 0 {
		background = DefaultBackgroundPollInterval
	}
	return &Poller{
		manager:    m,
		kick:       make(chan struct{}, 1),
		fgInterval: foreground,
		bgInterval: background,
	}
}

// SetForeground switches the polling cadence. Entering the foreground also
// triggers an immediate fetch.
func (p *Poller) SetForeground(fg bool) {
	p.mu.Lock()
	changed := p.foreground != fg
	p.foreground = fg
	p.mu.Unlock()
	if changed && fg {
		p.Kick()
	}
}

// Kick requests a fetch as soon as possible, for example after a push
// notification announced new content.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Poller) interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.foreground {
		return p.fgInterval
	}
	return p.bgInterval
}

// Run polls until the context is cancelled. It fetches once at startup so a
// fresh process catches up immediately.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("Poller.Run: starting message poller",
		"foregroundInterval", p.fgInterval, "backgroundInterval", p.bgInterval)
	p.fetch(ctx)

	timer := time.NewTimer(p.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Poller.Run: stopping")
			return
		case <-p.kick:
			p.fetch(ctx)
		case <-timer.C:
			p.fetch(ctx)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.interval())
	}
}

func (p *Poller) fetch(ctx context.Context) {
	if _, err := p.manager.FetchAndStoreMessages(ctx); err != nil {
		slog.Warn("Poller.fetch: fetch failed", "error", err)
	}
}
