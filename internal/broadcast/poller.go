package broadcast

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"calhub/internal/core"
	"calhub/internal/dispatch"
	"calhub/internal/store"
)

// Poller is the default trigger for the broadcaster: a cron job that walks
// every (user, provider) pair with stored subscriptions and re-broadcasts.
// Broadcast stays externally callable; the poller is just the in-repo policy.
type Poller struct {
	cron        *cron.Cron
	broadcaster *Broadcaster
	store       store.Store
	registry    *dispatch.Registry
	log         *slog.Logger
}

func NewPoller(b *Broadcaster, s store.Store, reg *dispatch.Registry, log *slog.Logger) *Poller {
	return &Poller{
		cron:        cron.New(),
		broadcaster: b,
		store:       s,
		registry:    reg,
		log:         log,
	}
}

// Start schedules the sweep with a cron expression (e.g. "@every 5m").
func (p *Poller) Start(schedule string) error {
	if _, err := p.cron.AddFunc(schedule, func() {
		p.Sweep(context.Background())
	}); err != nil {
		return err
	}
	p.cron.Start()
	p.log.Info("broadcast poller started", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

// Sweep broadcasts once for every subscriber of every configured provider.
// Failures are logged per pair and never stop the sweep.
func (p *Poller) Sweep(ctx context.Context) {
	for _, provider := range core.Providers() {
		if _, ok := p.registry.ByProvider(provider); !ok {
			continue
		}
		users, err := p.store.Subscribers(ctx, provider)
		if err != nil {
			p.log.Error("poll sweep: list subscribers failed", "provider", provider, "err", err)
			continue
		}
		for _, userID := range users {
			if err := p.broadcaster.Broadcast(ctx, userID, provider); err != nil {
				p.log.Error("poll sweep: broadcast failed", "provider", provider, "user", userID, "err", err)
			}
		}
	}
}
