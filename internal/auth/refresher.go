package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"thinghub/internal/metrics"
	"thinghub/internal/store"
)

// Refresher is the independent background task from spec.md §4.6: it
// keeps the credentials store's bearer token fresh by sleeping 24h after a
// successful refresh and 5min after a failure or when no token is present
// yet (e.g. before the first login). It never clears a token it fails to
// refresh — a known gap carried forward unchanged from the original, since
// an operator-visible stale-but-rejected token is preferable to silently
// losing the ability to retry Login out-of-band.
type Refresher struct {
	creds   *store.CredentialsStore
	api     API
	logger  *zap.Logger
	metrics *metrics.Registry

	successInterval time.Duration
	retryInterval   time.Duration
}

// NewRefresher builds a Refresher. successInterval/retryInterval default to
// 24h/5min when zero. metricsReg may be nil, e.g. in unit tests.
func NewRefresher(creds *store.CredentialsStore, api API, logger *zap.Logger, metricsReg *metrics.Registry, successInterval, retryInterval time.Duration) *Refresher {
	if successInterval == 0 {
		successInterval = 24 * time.Hour
	}
	if retryInterval == 0 {
		retryInterval = 5 * time.Minute
	}
	return &Refresher{
		creds:           creds,
		api:             api,
		logger:          logger,
		metrics:         metricsReg,
		successInterval: successInterval,
		retryInterval:   retryInterval,
	}
}

// Run loops until ctx is canceled, refreshing the stored token on the
// configured cadence.
func (r *Refresher) Run(ctx context.Context) {
	for {
		wait := r.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// tick performs one refresh attempt and returns how long to sleep before
// the next one.
func (r *Refresher) tick(ctx context.Context) time.Duration {
	current := r.creds.Snapshot()
	if current.Token == nil {
		r.logger.Info("no token to refresh yet")
		r.countRefresh("no_token")
		return r.retryInterval
	}

	newToken, err := r.api.Refresh(ctx, *current.Token)
	if err != nil {
		r.logger.Error("failed to refresh token, leaving stored token as-is", zap.Error(err))
		r.countRefresh("failure")
		return r.retryInterval
	}

	if newToken == *current.Token {
		r.countRefresh("success")
		return r.successInterval
	}

	err = r.creds.Update(func(c *store.Credentials) error {
		c.Token = &newToken
		return nil
	})
	if err != nil {
		r.logger.Error("failed to persist refreshed token", zap.Error(err))
		r.countRefresh("failure")
		return r.retryInterval
	}

	r.logger.Info("refreshed auth token")
	r.countRefresh("success")
	return r.successInterval
}

func (r *Refresher) countRefresh(outcome string) {
	if r.metrics != nil {
		r.metrics.AuthRefreshes.WithLabelValues(outcome).Inc()
	}
}
