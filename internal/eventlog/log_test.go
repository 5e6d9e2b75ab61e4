package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ghmbegerez/converge/internal/intent"
)

type fakeEvents struct {
	appended []Event
}

func (f *fakeEvents) Append(_ context.Context, ev Event) (string, error) {
	f.appended = append(f.appended, ev)
	return ev.ID, nil
}

func (f *fakeEvents) Query(_ context.Context, q Query) ([]Event, error) {
	var out []Event
	for _, ev := range f.appended {
		if q.IntentID != "" && ev.IntentID != q.IntentID {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeEvents) LatestOf(_ context.Context, typ EventType, intentID string) (*Event, error) {
	var latest *Event
	for i := range f.appended {
		ev := f.appended[i]
		if ev.Type != typ || ev.IntentID != intentID {
			continue
		}
		latest = &ev
	}
	return latest, nil
}

type fakeIntents struct {
	byID map[string]intent.Intent
}

func (f *fakeIntents) Get(_ context.Context, id string) (intent.Intent, error) {
	return f.byID[id], nil
}

func (f *fakeIntents) Upsert(_ context.Context, in intent.Intent) error {
	f.byID[in.ID] = in
	return nil
}

func TestMaterializeAppliesValidatedProjection(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	in := intent.New("i1", "feature/a", "main", intent.OriginHuman, "alice", now)
	in.Status = intent.StatusDraft
	require.NoError(t, in.Ready(now))

	intents := &fakeIntents{byID: map[string]intent.Intent{"i1": *in}}
	log := NewLog(&fakeEvents{}, intents)

	ev := New("t1", IntentValidated, "i1", nil, nil, now)
	require.NoError(t, log.Materialize(ctx, ev))

	got := intents.byID["i1"]
	require.Equal(t, intent.StatusValidated, got.Status)
}

func TestMaterializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	in := intent.New("i1", "feature/a", "main", intent.OriginHuman, "alice", now)
	in.Status = intent.StatusDraft
	require.NoError(t, in.Ready(now))
	require.NoError(t, in.MarkValidated(now))
	require.NoError(t, in.MarkQueued(now))

	intents := &fakeIntents{byID: map[string]intent.Intent{"i1": *in}}
	log := NewLog(&fakeEvents{}, intents)

	ev := New("t1", IntentMerged, "i1", nil, nil, now)
	require.NoError(t, log.Materialize(ctx, ev))
	require.NoError(t, log.Materialize(ctx, ev))

	got := intents.byID["i1"]
	require.Equal(t, intent.StatusMerged, got.Status)
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	events := &fakeEvents{}
	log := NewLog(events, &fakeIntents{byID: map[string]intent.Intent{}})

	_, err := log.Append(ctx, New("t1", IntentCreated, "i1", nil, nil, now))
	require.NoError(t, err)

	out, err := log.Query(ctx, Query{IntentID: "i1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
}
