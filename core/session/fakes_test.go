package session

import (
	"context"
	"sync"
	"time"
)

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	mu      sync.Mutex
	recs    map[string]Record
	applied []Patch

	getOrCreateErr error
	applyErr       error
	bulkErr        error
	countErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: map[string]Record{}}
}

func (f *fakeStore) put(rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[rec.UserID] = rec
}

func (f *fakeStore) get(userID string) (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[userID]
	return rec, ok
}

func (f *fakeStore) GetOrCreate(_ context.Context, userID string) (Record, error) {
	if f.getOrCreateErr != nil {
		return Record{}, f.getOrCreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recs[userID]; ok {
		return rec, nil
	}
	now := time.Now()
	rec := Record{UserID: userID, State: StateIdle, LastInteraction: now, CreatedAt: now, UpdatedAt: now}
	f.recs[userID] = rec
	return rec, nil
}

func applyPatch(rec Record, p Patch) Record {
	if p.State != nil {
		rec.State = *p.State
	}
	switch {
	case p.ClearPromptedAt:
		rec.PromptedAt = nil
	case p.PromptedAt != nil:
		rec.PromptedAt = p.PromptedAt
	}
	if p.TouchInteraction {
		if now := time.Now(); now.After(rec.LastInteraction) {
			rec.LastInteraction = now
		}
	}
	rec.UpdatedAt = time.Now()
	return rec
}

func (f *fakeStore) Apply(_ context.Context, userID string, p Patch) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, p)
	rec, ok := f.recs[userID]
	if !ok {
		rec = Record{UserID: userID, State: StateIdle}
	}
	f.recs[userID] = applyPatch(rec, p)
	return nil
}

func (f *fakeStore) FindExpired(_ context.Context, st State, cutoff time.Time) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, rec := range f.recs {
		if rec.State == st && rec.LastInteraction.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) BulkTransition(_ context.Context, userIDs []string, p Patch) error {
	if f.bulkErr != nil {
		return f.bulkErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range userIDs {
		if rec, ok := f.recs[id]; ok {
			f.recs[id] = applyPatch(rec, p)
		}
	}
	return nil
}

func (f *fakeStore) PurgeIdleBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, rec := range f.recs {
		stale := rec.PromptedAt == nil || rec.PromptedAt.Before(cutoff)
		if rec.State == StateIdle && rec.LastInteraction.Before(cutoff) && stale {
			delete(f.recs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountTracked(_ context.Context) (Counts, error) {
	if f.countErr != nil {
		return Counts{}, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var c Counts
	for _, rec := range f.recs {
		switch rec.State {
		case StateTalkToUs:
			c.TalkToUs++
		case StateLiveChat:
			c.LiveChat++
		}
	}
	return c, nil
}

func (f *fakeStore) Get(_ context.Context, userID string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) ListByState(_ context.Context, st State, _ int) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, rec := range f.recs {
		if rec.State == st {
			out = append(out, rec)
		}
	}
	return out, nil
}

type sentText struct {
	UserID string
	Text   string
}

// fakeDispatcher records outbound texts and can fail on demand.
type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []sentText
	sendErr error
}

func (f *fakeDispatcher) SendText(_ context.Context, userID, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{UserID: userID, Text: text})
	return nil
}

func (f *fakeDispatcher) messages() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

// fakeForwarder returns a canned reply or error.
type fakeForwarder struct {
	mu       sync.Mutex
	payloads []Payload
	reply    string
	err      error
}

func (f *fakeForwarder) Forward(_ context.Context, p Payload) (string, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}
