package calls

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu     sync.Mutex
	calls  []VoiceCall
	events []CallStatusEvent
	clock  time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// tick hands out strictly increasing timestamps so "most recent" is deterministic.
func (r *MemoryRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Millisecond)
	return r.clock
}

func (r *MemoryRepo) InsertCall(ctx context.Context, c VoiceCall) (VoiceCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.tick()
	}
	c.UpdatedAt = c.CreatedAt
	r.calls = append(r.calls, c)
	return c, nil
}

func (r *MemoryRepo) GetCall(ctx context.Context, id string) (VoiceCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.index(id); i >= 0 {
		return r.calls[i], nil
	}
	return VoiceCall{}, ErrNotFound
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, id string, status CallStatus, durationSeconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return ErrNotFound
	}
	r.calls[i].Status = status
	if durationSeconds > 0 {
		r.calls[i].DurationSeconds = durationSeconds
	}
	r.calls[i].UpdatedAt = r.tick()
	return nil
}

func (r *MemoryRepo) FindByCallbackID(ctx context.Context, callSID string) (VoiceCall, error) {
	return r.first(func(c VoiceCall) bool { return callSID != "" && c.CallbackCallID == callSID })
}

func (r *MemoryRepo) FindOpenByNumbers(ctx context.Context, tenantID, from, to string) (VoiceCall, error) {
	return r.latest(func(c VoiceCall) bool {
		return c.Open() && c.From == from && c.To == to && (tenantID == "" || c.TenantID == tenantID)
	})
}

func (r *MemoryRepo) FindOpenByIdentity(ctx context.Context, tenantID, identity, to string) (VoiceCall, error) {
	return r.latest(func(c VoiceCall) bool {
		return c.Open() && c.Identity == identity && c.To == to && (tenantID == "" || c.TenantID == tenantID)
	})
}

func (r *MemoryRepo) StampCallback(ctx context.Context, id, callSID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 || r.calls[i].CallbackCallID != "" {
		return false, nil
	}
	for _, c := range r.calls {
		if c.CallbackCallID == callSID {
			return false, nil
		}
	}
	r.calls[i].CallbackCallID = callSID
	r.calls[i].UpdatedAt = r.tick()
	return true, nil
}

func (r *MemoryRepo) FindByRecordingID(ctx context.Context, callSID string) (VoiceCall, error) {
	return r.first(func(c VoiceCall) bool { return callSID != "" && c.RecordingCallID == callSID })
}

func (r *MemoryRepo) FindRecordingCandidate(ctx context.Context, tenantID, identity string) (VoiceCall, error) {
	return r.latest(func(c VoiceCall) bool {
		return c.RecordingCallID == "" && c.Identity == identity && (tenantID == "" || c.TenantID == tenantID)
	})
}

func (r *MemoryRepo) StampRecording(ctx context.Context, id, callSID, recordingSID, recordingURL string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 || r.calls[i].RecordingCallID != "" {
		return false, nil
	}
	for _, c := range r.calls {
		if c.RecordingCallID == callSID {
			return false, nil
		}
	}
	r.calls[i].RecordingCallID = callSID
	r.calls[i].RecordingSID = recordingSID
	r.calls[i].RecordingURL = recordingURL
	r.calls[i].UpdatedAt = r.tick()
	return true, nil
}

func (r *MemoryRepo) AppendEvent(ctx context.Context, e CallStatusEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.events {
		if existing.Kind == e.Kind && existing.CallSID == e.CallSID && existing.Status == e.Status {
			return false, nil
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.tick()
	}
	r.events = append(r.events, e)
	return true, nil
}

// Calls returns a copy of every stored call.
func (r *MemoryRepo) Calls() []VoiceCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]VoiceCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// Events returns a copy of the callback trail.
func (r *MemoryRepo) Events() []CallStatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallStatusEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepo) index(id string) int {
	for i, c := range r.calls {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (r *MemoryRepo) first(match func(VoiceCall) bool) (VoiceCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if match(c) {
			return c, nil
		}
	}
	return VoiceCall{}, ErrNotFound
}

func (r *MemoryRepo) latest(match func(VoiceCall) bool) (VoiceCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best VoiceCall
	found := false
	for _, c := range r.calls {
		if !match(c) {
			continue
		}
		if !found || c.CreatedAt.After(best.CreatedAt) || (c.CreatedAt.Equal(best.CreatedAt) && c.ID > best.ID) {
			best = c
			found = true
		}
	}
	if !found {
		return VoiceCall{}, ErrNotFound
	}
	return best, nil
}
