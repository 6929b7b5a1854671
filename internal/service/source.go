package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-bikemap/internal/cache"
	"github.com/joeblew999/plat-bikemap/internal/metrics"
)

// FetchConfig controls remote collection loading.
type FetchConfig struct {
	Attempts   int           // total tries per fetch
	Backoff    time.Duration // wait after the first failure
	MaxBackoff time.Duration
	Timeout    time.Duration // per request
	CacheTTL   time.Duration // zero keeps entries until restart
}

// DefaultFetchConfig returns the standard retry policy.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Attempts:   3,
		Backoff:    250 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
		Timeout:    30 * time.Second,
		CacheTTL:   10 * time.Minute,
	}
}

// SourceService loads remote GeoJSON collections through a shared cache.
type SourceService struct {
	cfg     FetchConfig
	client  *http.Client
	cache   cache.Cache
	log     *zap.Logger
	metrics *metrics.Metrics
	sleep   func(context.Context, time.Duration) error
}

// NewSourceService creates a source service. A nil cache disables caching;
// a nil logger discards logs.
func NewSourceService(cfg FetchConfig, c cache.Cache, log *zap.Logger, m *metrics.Metrics) *SourceService {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SourceService{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   c,
		log:     log,
		metrics: m,
		sleep:   sleepContext,
	}
}

// Fetch returns a freshly parsed collection for url, from the cache when
// possible. Failures are reported as *DataFetchError.
func (s *SourceService) Fetch(ctx context.Context, name, url string) (*geojson.FeatureCollection, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveFetch(name, time.Since(start)) }()

	if s.cache != nil {
		data, err := s.cache.Get(ctx, url)
		if err != nil {
			s.log.Warn("source cache read failed", zap.String("source", name), zap.Error(err))
		}
		if data != nil {
			if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil {
				s.metrics.IncFetchAttempt(name, "cache_hit")
				return fc, nil
			}
		}
	}

	var lastErr error
	attempts := 0
	for attempts < s.cfg.Attempts {
		if attempts > 0 {
			wait := backoffDuration(s.cfg.Backoff, s.cfg.MaxBackoff, attempts)
			s.log.Debug("retrying source fetch",
				zap.String("source", name),
				zap.Int("attempt", attempts+1),
				zap.Duration("wait", wait))
			if err := s.sleep(ctx, wait); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		data, err := s.get(ctx, url)
		if err != nil {
			lastErr = err
			s.metrics.IncFetchAttempt(name, "error")
			s.log.Warn("source fetch failed",
				zap.String("source", name),
				zap.String("url", url),
				zap.Int("attempt", attempts),
				zap.Error(err))
			if !retryable(err) || ctx.Err() != nil {
				break
			}
			continue
		}

		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			s.metrics.IncFetchAttempt(name, "invalid")
			lastErr = fmt.Errorf("decode geojson: %w", err)
			break
		}
		s.metrics.IncFetchAttempt(name, "ok")

		if s.cache != nil {
			if err := s.cache.Set(ctx, url, data, s.cfg.CacheTTL); err != nil {
				s.log.Warn("source cache write failed", zap.String("source", name), zap.Error(err))
			}
		}
		s.log.Info("source loaded",
			zap.String("source", name),
			zap.Int("features", len(fc.Features)),
			zap.Int("attempts", attempts))
		return fc, nil
	}

	return nil, &DataFetchError{Source: name, URL: url, Attempts: attempts, Err: lastErr}
}

// Warm fetches every definition concurrently so later sessions hit the
// cache. It returns the first failure after all fetches finish.
func (s *SourceService) Warm(ctx context.Context, defs []SourceDef) error {
	var g errgroup.Group
	g.SetLimit(4)
	for _, d := range defs {
		g.Go(func() error {
			_, err := s.Fetch(ctx, d.Name, d.URL)
			return err
		})
	}
	return g.Wait()
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (s *SourceService) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// retryable reports whether another attempt could succeed. Client errors
// other than 408 and 429 are final.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests || se.code == http.StatusRequestTimeout
	}
	return true
}

// backoffDuration is base * 2^(failures-1), capped at max.
func backoffDuration(base, max time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	if failures <= 1 {
		return min(base, max)
	}
	if failures > 16 {
		failures = 16
	}
	d := base * time.Duration(1<<(failures-1))
	if d > max {
		return max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
