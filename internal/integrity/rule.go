package integrity

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Tier ranks how much a sensor trace matters to the verdict.
type Tier int

const (
	// TierOptional traces never produce findings.
	TierOptional Tier = iota
	// TierDesired traces produce warnings.
	TierDesired
	// TierRequired traces produce errors.
	TierRequired
)

func (t Tier) String() string {
	switch t {
	case TierRequired:
		return "required"
	case TierDesired:
		return "desired"
	case TierOptional:
		return "optional"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// ParseTier accepts the tier names. The numeric spellings 2, 1 and 0 of the
// recorder's original table are accepted as well.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "required", "2":
		return TierRequired, nil
	case "desired", "1":
		return TierDesired, nil
	case "optional", "0":
		return TierOptional, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", s)
	}
}

// MarshalJSON encodes the tier by name.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier name or its legacy integer.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("tier must be a name or 0-2, got %s", data)
		}
		name = fmt.Sprint(n)
	}
	parsed, err := ParseTier(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Rule is the expectation for one sensor key.
type Rule struct {
	Key       string   `json:"key"`
	Tier      Tier     `json:"tier"`
	MinRateHz float64  `json:"min_rate_hz"`
	MaxRateHz float64  `json:"max_rate_hz"`
	MaxGapS   *float64 `json:"max_gap_s,omitempty"`
}

// RuleTable is an ordered list of rules. Findings follow table order.
type RuleTable []Rule

// Validate reports the first malformed rule.
func (rt RuleTable) Validate() error {
	seen := make(map[string]bool, len(rt))
	for i, r := range rt {
		if r.Key == "" {
			return fmt.Errorf("rule %d: empty key", i)
		}
		if seen[r.Key] {
			return fmt.Errorf("rule %d: duplicate key %q", i, r.Key)
		}
		seen[r.Key] = true

		if r.Tier < TierOptional || r.Tier > TierRequired {
			return fmt.Errorf("rule %q: invalid tier %d", r.Key, int(r.Tier))
		}
		if math.IsNaN(r.MinRateHz) || math.IsNaN(r.MaxRateHz) {
			return fmt.Errorf("rule %q: rate bounds must be numbers", r.Key)
		}
		if r.MinRateHz < 0 {
			return fmt.Errorf("rule %q: min_rate_hz must be non-negative, got %g", r.Key, r.MinRateHz)
		}
		if r.MinRateHz > r.MaxRateHz {
			return fmt.Errorf("rule %q: min_rate_hz %g exceeds max_rate_hz %g", r.Key, r.MinRateHz, r.MaxRateHz)
		}
		if r.MaxGapS != nil && !(*r.MaxGapS > 0) {
			return fmt.Errorf("rule %q: max_gap_s must be positive, got %g", r.Key, *r.MaxGapS)
		}
	}
	return nil
}

// Keys returns the rule keys in table order.
func (rt RuleTable) Keys() []string {
	keys := make([]string, len(rt))
	for i, r := range rt {
		keys[i] = r.Key
	}
	return keys
}

// Gap returns a pointer suitable for Rule.MaxGapS.
func Gap(seconds float64) *float64 { return &seconds }
