package dashboard

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// fakeSource serves canned devices and telemetry. Errors keyed by device
// type fail the listing; errors keyed by device id fail its telemetry.
type fakeSource struct {
	mu        sync.Mutex
	devices   map[string][]thingsboard.Device
	telemetry map[string]thingsboard.Telemetry
	listErr   map[string]error
	telErr    map[string]error
	calls     int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		devices:   map[string][]thingsboard.Device{},
		telemetry: map[string]thingsboard.Telemetry{},
		listErr:   map[string]error{},
		telErr:    map[string]error{},
	}
}

func (f *fakeSource) add(deviceType, id, name string, tel thingsboard.Telemetry) {
	f.devices[deviceType] = append(f.devices[deviceType], thingsboard.Device{
		ID:   thingsboard.EntityID(id),
		Name: name,
		Type: deviceType,
	})
	if tel != nil {
		f.telemetry[id] = tel
	}
}

func (f *fakeSource) ListDevicesByType(_ context.Context, deviceType string) ([]thingsboard.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.listErr[deviceType]; err != nil {
		return nil, err
	}
	return append([]thingsboard.Device(nil), f.devices[deviceType]...), nil
}

func (f *fakeSource) LatestTelemetry(_ context.Context, deviceID string, _ []string) (thingsboard.Telemetry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.telErr[deviceID]; err != nil {
		return nil, err
	}
	return f.telemetry[deviceID], nil
}

// cancelAfterListing cancels the refresh once a category is listed, and
// fails telemetry the way the client does for a cancelled context.
type cancelAfterListing struct {
	*fakeSource
	cancel context.CancelFunc
}

func (c *cancelAfterListing) ListDevicesByType(ctx context.Context, deviceType string) ([]thingsboard.Device, error) {
	devices, err := c.fakeSource.ListDevicesByType(ctx, deviceType)
	c.cancel()
	return devices, err
}

func (c *cancelAfterListing) LatestTelemetry(ctx context.Context, deviceID string, keys []string) (thingsboard.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &thingsboard.NetworkError{Op: "latestTelemetry", Err: err}
	}
	return c.fakeSource.LatestTelemetry(ctx, deviceID, keys)
}

func pt(ts int64, v thingsboard.Value) []thingsboard.Point {
	return []thingsboard.Point{{Timestamp: ts, Value: v}}
}

var errBoom = errors.New("boom")

// fakeRefresher returns queued results in order, repeating the last.
type fakeRefresher struct {
	mu      sync.Mutex
	results []refreshResult
	calls   int
	block   chan struct{}
}

type refreshResult struct {
	snap *Snapshot
	err  error
}

func (f *fakeRefresher) Refresh(ctx context.Context) (*Snapshot, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return &Snapshot{}, nil
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.snap, r.err
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
