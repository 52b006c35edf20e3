package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/tbdash/internal/infrastructure/logging"
	"github.com/nerrad567/tbdash/internal/infrastructure/metrics"
	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// Source is what the aggregator needs from the backend client.
type Source interface {
	ListDevicesByType(ctx context.Context, deviceType string) ([]thingsboard.Device, error)
	LatestTelemetry(ctx context.Context, deviceID string, keys []string) (thingsboard.Telemetry, error)
}

// Aggregator builds Snapshots from a Source.
//
// Thread Safety: Refresh is safe for concurrent use; concurrent calls are
// independent.
type Aggregator struct {
	src     Source
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// AggregatorOption customises an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the logger.
func WithAggregatorLogger(l *logging.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = l.With("component", "dashboard") }
}

// WithAggregatorMetrics records refresh outcomes and absorbed failures.
func WithAggregatorMetrics(m *metrics.Metrics) AggregatorOption {
	return func(a *Aggregator) { a.metrics = m }
}

// NewAggregator creates an aggregator reading from src.
func NewAggregator(src Source, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		src:    src,
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Refresh lists all three categories concurrently and builds a Snapshot.
//
// Returns an error, and no snapshot, when any category listing fails,
// when any call fails authentication, or when ctx ends before the
// telemetry is in. Other per-device telemetry failures are absorbed into
// placeholder view models.
func (a *Aggregator) Refresh(ctx context.Context) (*Snapshot, error) {
	start := a.now()
	snap := &Snapshot{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pools, err := collect(gctx, a, thingsboard.TypePool, PoolKeys,
			func(d thingsboard.Device, tel thingsboard.Telemetry) Pool { return buildPool(d, tel, a.now()) },
			func(d thingsboard.Device) Pool { return placeholderPool(d, a.now()) },
		)
		snap.Pools = pools
		return err
	})
	g.Go(func() error {
		pumps, err := collect(gctx, a, thingsboard.TypePump, PumpKeys, buildPump, placeholderPump)
		snap.Pumps = pumps
		return err
	})
	g.Go(func() error {
		meters, err := collect(gctx, a, thingsboard.TypeEnergyMeter, EnergyMeterKeys, buildEnergyMeter, placeholderEnergyMeter)
		snap.EnergyMeters = meters
		return err
	})

	err := g.Wait()
	a.metrics.ObserveDashboard(err)
	if err != nil {
		a.logger.Warn("dashboard refresh failed", "error", err)
		return nil, err
	}

	snap.UpdatedAt = a.now()
	a.logger.Debug("dashboard refreshed",
		"pools", len(snap.Pools),
		"pumps", len(snap.Pumps),
		"energy_meters", len(snap.EnergyMeters),
		"duration", snap.UpdatedAt.Sub(start),
	)
	return snap, nil
}

// collect lists one category and fetches telemetry for each device in
// parallel. Results keep the listing order; every device gets a slot.
func collect[T any](
	ctx context.Context,
	a *Aggregator,
	category string,
	keys []string,
	build func(thingsboard.Device, thingsboard.Telemetry) T,
	placeholder func(thingsboard.Device) T,
) ([]T, error) {
	devices, err := a.src.ListDevicesByType(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("listing %s devices: %w", category, err)
	}

	results := make([]T, len(devices))
	errs := make([]error, len(devices))

	var wg sync.WaitGroup
	for i, d := range devices {
		wg.Add(1)
		go func(idx int, dev thingsboard.Device) {
			defer wg.Done()
			tel, err := a.src.LatestTelemetry(ctx, string(dev.ID), keys)
			if err != nil {
				errs[idx] = err
				results[idx] = placeholder(dev)
				return
			}
			results[idx] = build(dev, tel)
		}(i, d)
	}
	wg.Wait()

	// A cancelled caller fails every fetch; that is not a device fault.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetching %s telemetry: %w", category, err)
	}

	for i, err := range errs {
		if err == nil {
			continue
		}
		if thingsboard.IsAuthError(err) {
			return nil, fmt.Errorf("fetching %s telemetry: %w", category, err)
		}
		a.metrics.DeviceFailed(category)
		a.logger.Warn("device telemetry unavailable",
			"category", category,
			"device_id", string(devices[i].ID),
			"error", err,
		)
	}
	return results, nil
}
