// Package feed keeps oracle feed accounts current by polling an upstream
// price service.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/metrics"
	"github.com/alanyoungcy/urbanium/internal/vault"
)

// PriceSource returns the newest observation per feed.
type PriceSource interface {
	Latest(ctx context.Context, feeds []domain.ID) (map[domain.ID]domain.Observation, error)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Feeds    []domain.ID
	Interval time.Duration
	// Publisher is written as the owner of every feed account.
	Publisher domain.ID
	// RateKey names the shared rate-limit bucket. Replicas sharing a key
	// poll at most once per interval between them.
	RateKey string
}

// Poller writes upstream observations into the feed store.
type Poller struct {
	cfg     PollerConfig
	source  PriceSource
	feeds   domain.FeedStore
	limiter domain.RateLimiter
	metrics *metrics.VaultMetrics
	logger  *slog.Logger
}

// NewPoller creates a Poller. limiter may be nil.
func NewPoller(cfg PollerConfig, source PriceSource, feeds domain.FeedStore, limiter domain.RateLimiter, m *metrics.VaultMetrics, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.RateKey == "" {
		cfg.RateKey = "feed_poller"
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		feeds:   feeds,
		limiter: limiter,
		metrics: m,
		logger:  logger.With(slog.String("component", "feed_poller")),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if len(p.cfg.Feeds) == 0 {
		p.logger.Info("feed poller has no feeds configured")
		<-ctx.Done()
		return nil
	}
	p.logger.Info("feed poller started",
		slog.Int("feeds", len(p.cfg.Feeds)),
		slog.Duration("interval", p.cfg.Interval),
	)
	defer p.logger.Info("feed poller stopped")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("feed poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches every configured feed once and stores the results. Feeds
// the upstream did not return are left untouched.
func (p *Poller) Poll(ctx context.Context) error {
	if p.limiter != nil {
		allowed, err := p.limiter.Allow(ctx, p.cfg.RateKey, 1, p.cfg.Interval)
		if err != nil {
			return fmt.Errorf("feed: rate limit: %w", err)
		}
		if !allowed {
			p.logger.Debug("feed poll skipped, another poller holds the window")
			return nil
		}
	}

	latest, err := p.source.Latest(ctx, p.cfg.Feeds)
	if err != nil {
		for _, id := range p.cfg.Feeds {
			p.metrics.ObserveFeedUpdate(id, err)
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range p.cfg.Feeds {
		obs, ok := latest[id]
		if !ok {
			p.logger.Debug("feed missing from upstream", slog.String("feed", id.Hex()))
			continue
		}
		g.Go(func() error {
			err := p.feeds.Store(gctx, domain.FeedAccount{
				ID:    id,
				Owner: p.cfg.Publisher,
				Data:  vault.EncodeObservation(obs),
			})
			p.metrics.ObserveFeedUpdate(id, err)
			if err != nil {
				return fmt.Errorf("feed: store %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
