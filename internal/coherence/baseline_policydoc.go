package coherence

import (
	"context"
)

// PolicyDocStore is the narrow slice of store.PolicyDocStore this package
// needs, named locally to avoid an import cycle with internal/store.
type PolicyDocStore interface {
	GetDoc(ctx context.Context, name string) (map[string]any, bool, error)
	SetDoc(ctx context.Context, name string, doc map[string]any) error
}

// baselineDocName is the PolicyDocStore key baselines are persisted
// under, alongside the calibration and policy-override documents the same
// store backs. Baselines live in the store, not the config file: the
// harness config is read-only at run time.
const baselineDocName = "coherence_baselines"

// DocBaselines persists baselines as a flat question-id -> value document
// via the same store.PolicyDocStore port the policy engine uses for
// calibration history, rather than introducing a dedicated table.
type DocBaselines struct {
	Docs PolicyDocStore
}

// NewDocBaselines wraps docs as a BaselineStore.
func NewDocBaselines(docs PolicyDocStore) *DocBaselines {
	return &DocBaselines{Docs: docs}
}

func (d *DocBaselines) Get(ctx context.Context, questionID string) (float64, bool, error) {
	doc, ok, err := d.Docs.GetDoc(ctx, baselineDocName)
	if err != nil || !ok {
		return 0, false, err
	}
	raw, ok := doc[questionID]
	if !ok {
		return 0, false, nil
	}
	v, ok := raw.(float64)
	return v, ok, nil
}

func (d *DocBaselines) Set(ctx context.Context, questionID string, value float64) error {
	doc, ok, err := d.Docs.GetDoc(ctx, baselineDocName)
	if err != nil {
		return err
	}
	if !ok || doc == nil {
		doc = make(map[string]any)
	}
	doc[questionID] = value
	return d.Docs.SetDoc(ctx, baselineDocName, doc)
}
