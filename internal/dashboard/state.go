package dashboard

import (
	"sort"
	"sync"
	"time"
)

// View is what readers of State see.
type View struct {
	Pools        []Pool        `json:"pools"`
	Pumps        []Pump        `json:"pumps"`
	EnergyMeters []EnergyMeter `json:"energyMeters"`
	Loading      bool          `json:"loading"`
	Error        string        `json:"error,omitempty"`
	LastUpdated  int64         `json:"lastUpdated"`
}

// PoolPatch is a partial pool update. Nil fields are left alone.
type PoolPatch struct {
	Name       *string          `json:"name,omitempty"`
	Sensors    *[]SensorReading `json:"sensors,omitempty"`
	PumpStatus *bool            `json:"pumpStatus,omitempty"`
}

// State holds the latest snapshot plus loading and error flags.
//
// A successful refresh replaces the snapshot wholesale, discarding any
// overlays. A failed refresh keeps the previous snapshot and records the
// error.
//
// Thread Safety: all methods are safe for concurrent use. Subscribers are
// called outside the state lock, in registration order.
type State struct {
	mu      sync.RWMutex
	snap    *Snapshot
	loading bool
	lastErr string
	seq     uint64 // bumped on every change, under mu

	subMu  sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

// subscriber serialises deliveries to one fn and drops any View older than
// the last one it delivered, so concurrent changes never leave a
// subscriber holding a stale View.
type subscriber struct {
	mu   sync.Mutex
	last uint64
	fn   func(View)
}

func (sub *subscriber) deliver(seq uint64, v View) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if seq <= sub.last {
		return
	}
	sub.last = seq
	sub.fn(v)
}

// NewState returns an empty State.
func NewState() *State {
	return &State{subs: map[int]*subscriber{}}
}

// Subscribe registers fn to be called with the new View after every
// change. Calls to one fn never overlap, and the last View it receives is
// the latest. fn must not modify the State. The returned func unregisters
// it.
func (s *State) Subscribe(fn func(View)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = &subscriber{fn: fn}
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Broadcaster pushes a payload to live clients on a named channel.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// BroadcastChanges pushes every View change to b on ChannelUpdated: refresh
// start and outcome as well as local overlays. The returned func stops it.
func BroadcastChanges(s *State, b Broadcaster) (cancel func()) {
	return s.Subscribe(func(v View) { b.Broadcast(ChannelUpdated, v) })
}

// View returns the current view.
func (s *State) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

func (s *State) viewLocked() View {
	v := View{
		Pools:        []Pool{},
		Pumps:        []Pump{},
		EnergyMeters: []EnergyMeter{},
		Loading:      s.loading,
		Error:        s.lastErr,
	}
	if s.snap != nil {
		c := s.snap.clone()
		if c.Pools != nil {
			v.Pools = c.Pools
		}
		if c.Pumps != nil {
			v.Pumps = c.Pumps
		}
		if c.EnergyMeters != nil {
			v.EnergyMeters = c.EnergyMeters
		}
		v.LastUpdated = c.UpdatedAt.UnixMilli()
	}
	return v
}

// Snapshot returns the last successful snapshot (with overlays), or nil.
func (s *State) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// BeginRefresh sets the loading flag and clears the last error.
func (s *State) BeginRefresh() {
	s.update(func() bool {
		s.loading = true
		s.lastErr = ""
		return true
	})
}

// Apply installs a fresh snapshot.
func (s *State) Apply(snap *Snapshot) {
	s.update(func() bool {
		s.snap = snap.clone()
		if s.snap.UpdatedAt.IsZero() {
			s.snap.UpdatedAt = time.Now()
		}
		s.loading = false
		s.lastErr = ""
		return true
	})
}

// Fail records a failed refresh. The previous snapshot is kept.
func (s *State) Fail(err error) {
	s.update(func() bool {
		s.loading = false
		s.lastErr = err.Error()
		return true
	})
}

// AbortRefresh clears the loading flag after a refresh that was abandoned
// rather than failed. Snapshot and error are left alone.
func (s *State) AbortRefresh() {
	s.update(func() bool {
		changed := s.loading
		s.loading = false
		return changed
	})
}

// ClearError drops the recorded error.
func (s *State) ClearError() {
	s.update(func() bool {
		changed := s.lastErr != ""
		s.lastErr = ""
		return changed
	})
}

// SetPumpStatus overlays status onto the pump with id. It reports whether
// the pump was found.
func (s *State) SetPumpStatus(id, status string) bool {
	found := false
	s.update(func() bool {
		if s.snap == nil {
			return false
		}
		for i := range s.snap.Pumps {
			if s.snap.Pumps[i].ID == id {
				s.snap = s.snap.clone()
				s.snap.Pumps[i].Status = status
				found = true
				return true
			}
		}
		return false
	})
	return found
}

// UpdatePool merges patch into the pool with id. It reports whether the
// pool was found.
func (s *State) UpdatePool(id string, patch PoolPatch) bool {
	found := false
	s.update(func() bool {
		if s.snap == nil {
			return false
		}
		for i := range s.snap.Pools {
			if s.snap.Pools[i].ID != id {
				continue
			}
			s.snap = s.snap.clone()
			p := &s.snap.Pools[i]
			if patch.Name != nil {
				p.Name = *patch.Name
			}
			if patch.Sensors != nil {
				p.Sensors = append([]SensorReading(nil), (*patch.Sensors)...)
			}
			if patch.PumpStatus != nil {
				p.PumpStatus = *patch.PumpStatus
			}
			found = true
			return true
		}
		return false
	})
	return found
}

// update runs fn under the write lock and notifies subscribers when fn
// reports a change.
func (s *State) update(fn func() bool) {
	s.mu.Lock()
	if !fn() {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq, v := s.seq, s.viewLocked()
	s.mu.Unlock()

	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]*subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.deliver(seq, v)
	}
}
