package intent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// IDLength is the length, in hex characters, of generated Intent IDs.
const IDLength = 12

// NewID derives a short hex Intent ID from a fresh UUID.
func NewID() string {
	raw := uuid.New()
	return raw.String()[:8] + raw.String()[9:13]
}

// RawPayload is the free-form webhook/CLI/agent submission body.
type RawPayload struct {
	Source    string          `json:"source"`
	Target    string          `json:"target"`
	Origin    string          `json:"origin_type"`
	CreatedBy string          `json:"created_by"`
	Priority  int             `json:"priority"`
	TenantID  string          `json:"tenant_id"`
	PlanID    string          `json:"plan_id"`
	Semantic  map[string]any  `json:"semantic"`
	Technical json.RawMessage `json:"technical"`

	ChecksRequired []string `json:"checks_required"`
	Dependencies   []string `json:"dependencies"`
	RiskLevel      string   `json:"risk_level"`
}

// FromPayload builds an Intent from a raw JSON submission. technical.scope_hint
// and technical.affected_modules are extracted leniently with gjson so that
// malformed or partially-typed technical blocks do not reject the whole
// Intent outright; everything else is strictly typed via encoding/json.
func FromPayload(raw []byte, now time.Time) (*Intent, error) {
	var p RawPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("intent: decode payload: %w", err)
	}
	if p.Source == "" || p.Target == "" {
		return nil, fmt.Errorf("intent: source and target are required")
	}

	origin := OriginType(p.Origin)
	if p.Origin == "" {
		origin = OriginHuman
	}
	if !origin.Valid() {
		return nil, fmt.Errorf("intent: invalid origin_type %q", p.Origin)
	}

	in := New(NewID(), p.Source, p.Target, origin, p.CreatedBy, now)
	if p.Priority != 0 {
		in.Priority = p.Priority
	}
	in.TenantID = p.TenantID
	in.PlanID = p.PlanID
	if p.Semantic != nil {
		in.Semantic = p.Semantic
	}
	in.ChecksRequired = append([]string(nil), p.ChecksRequired...)
	in.Dependencies = append([]string(nil), p.Dependencies...)

	if p.RiskLevel != "" {
		rl := RiskLevel(p.RiskLevel)
		if !rl.Valid() {
			return nil, fmt.Errorf("intent: invalid risk_level %q", p.RiskLevel)
		}
		in.RiskLevel = rl
	}

	if len(p.Technical) > 0 {
		in.Technical = extractTechnical(p.Technical)
	}

	if err := in.ValidateDependencies(nil); err != nil {
		return nil, err
	}

	return in, nil
}

// extractTechnical pulls scope_hint (ordered) and affected_modules out of a
// raw technical JSON blob using gjson, tolerating missing or malformed
// fields rather than failing the whole intake.
func extractTechnical(raw json.RawMessage) Technical {
	var t Technical
	doc := gjson.ParseBytes(raw)

	scopeHint := doc.Get("scope_hint")
	if scopeHint.IsArray() {
		scopeHint.ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.String {
				t.ScopeHint = append(t.ScopeHint, v.String())
			}
			return true
		})
	}

	affected := doc.Get("affected_modules")
	if affected.IsArray() {
		affected.ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.String {
				t.AffectedModules = append(t.AffectedModules, v.String())
			}
			return true
		})
	}

	return t
}
