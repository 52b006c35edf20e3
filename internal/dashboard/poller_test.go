package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tbdash/internal/thingsboard"
)

type recordingSink struct {
	mu    sync.Mutex
	name  string
	snaps []*Snapshot
	err   error
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, snap *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	channels []string
	payloads []any
}

func (b *recordingBroadcaster) Broadcast(channel string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
}

func TestPoller_RefreshNow(t *testing.T) {
	ref := &fakeRefresher{results: []refreshResult{{snap: sampleSnapshot()}}}
	state := NewState()
	failing := &recordingSink{name: "broken", err: errors.New("unreachable")}
	ok := &recordingSink{name: "ok"}

	p := NewPoller(ref, state, WithSinks(failing, ok))
	snap, err := p.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	if len(snap.Pumps) != 2 {
		t.Errorf("len(Pumps) = %d, want 2", len(snap.Pumps))
	}
	if len(state.View().Pumps) != 2 {
		t.Error("state not updated")
	}
	if failing.count() != 1 || ok.count() != 1 {
		t.Errorf("sink publishes = %d/%d, want 1/1", failing.count(), ok.count())
	}
}

func TestBroadcastChanges(t *testing.T) {
	ref := &fakeRefresher{results: []refreshResult{{snap: sampleSnapshot()}}}
	state := NewState()
	bc := &recordingBroadcaster{}
	stop := BroadcastChanges(state, bc)

	p := NewPoller(ref, state)
	if _, err := p.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	state.SetPumpStatus("pump-a", StatusOn)
	stop()
	state.SetPumpStatus("pump-a", StatusOff)

	bc.mu.Lock()
	defer bc.mu.Unlock()
	// loading, applied, pump overlay
	if len(bc.channels) != 3 {
		t.Fatalf("broadcasts = %d, want 3", len(bc.channels))
	}
	for _, ch := range bc.channels {
		if ch != ChannelUpdated {
			t.Errorf("channel = %q, want %q", ch, ChannelUpdated)
		}
	}
	if v, isView := bc.payloads[0].(View); !isView || !v.Loading {
		t.Errorf("first payload = %#v, want loading View", bc.payloads[0])
	}
	last, _ := bc.payloads[2].(View)
	if last.Pumps[0].Status != StatusOn {
		t.Errorf("last payload pump status = %q, want on", last.Pumps[0].Status)
	}
}

func TestPoller_FailedRefreshKeepsSnapshot(t *testing.T) {
	ref := &fakeRefresher{results: []refreshResult{
		{snap: sampleSnapshot()},
		{err: errBoom},
	}}
	state := NewState()
	sink := &recordingSink{name: "s"}
	p := NewPoller(ref, state, WithSinks(sink))

	if _, err := p.RefreshNow(context.Background()); err != nil {
		t.Fatalf("first RefreshNow() error = %v", err)
	}
	if _, err := p.RefreshNow(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("second RefreshNow() error = %v, want errBoom", err)
	}

	v := state.View()
	if v.Error != errBoom.Error() || v.Loading {
		t.Errorf("view = %+v, want error recorded and not loading", v)
	}
	if len(v.Pumps) != 2 {
		t.Error("previous snapshot lost")
	}
	if sink.count() != 1 {
		t.Errorf("sink publishes = %d, want 1 (failures are not published)", sink.count())
	}
}

func TestPoller_StartRunsImmediately(t *testing.T) {
	ref := &fakeRefresher{}
	p := NewPoller(ref, NewState(), WithSchedule("@every 1h"))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ref.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no refresh within 2s of Start")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPoller_InvalidSchedule(t *testing.T) {
	p := NewPoller(&fakeRefresher{}, NewState(), WithSchedule("every now and then"))
	if err := p.Start(context.Background()); err == nil {
		p.Stop()
		t.Fatal("Start() expected error for invalid schedule")
	}
}

func TestPoller_StopCancelsRunningRefresh(t *testing.T) {
	ref := &fakeRefresher{block: make(chan struct{})}
	state := NewState()
	p := NewPoller(ref, state, WithSchedule("@every 1h"))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return while a refresh was blocked")
	}
	p.Stop()

	if v := state.View(); v.Error != "" || v.Loading {
		t.Errorf("view = %+v, want an abandoned refresh to record no error", v)
	}
}

func TestPoller_CancelledRefreshKeepsView(t *testing.T) {
	src := newFakeSource()
	src.add(thingsboard.TypePump, "pump-a", "Pump A", thingsboard.Telemetry{
		"status": pt(1000, thingsboard.StringValue("ON")),
	})

	state := NewState()
	state.Apply(sampleSnapshot())
	state.SetPumpStatus("pump-a", StatusOn)
	before := state.View()

	sink := &recordingSink{name: "s"}
	bc := &recordingBroadcaster{}
	stop := BroadcastChanges(state, bc)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(NewAggregator(&cancelAfterListing{fakeSource: src, cancel: cancel}), state, WithSinks(sink))

	if _, err := p.RefreshNow(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("RefreshNow() error = %v, want context.Canceled", err)
	}

	v := state.View()
	if v.Loading || v.Error != "" {
		t.Errorf("view = %+v, want not loading and no error", v)
	}
	if v.LastUpdated != before.LastUpdated || len(v.Pumps) != len(before.Pumps) || v.Pumps[0].Status != StatusOn {
		t.Errorf("pumps = %+v, want the previous view kept", v.Pumps)
	}
	if sink.count() != 0 {
		t.Errorf("sink publishes = %d, want 0", sink.count())
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	for _, payload := range bc.payloads {
		view, _ := payload.(View)
		for _, pump := range view.Pumps {
			if pump.ID == "pump-a" && pump.Status != StatusOn {
				t.Errorf("broadcast pump-a = %+v, want the overlaid status kept", pump)
			}
		}
	}
}
