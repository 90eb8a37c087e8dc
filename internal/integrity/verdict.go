package integrity

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Reason identifies which check produced a finding.
type Reason string

const (
	ReasonMissing    Reason = "missing"
	ReasonSampleRate Reason = "sample_rate"
	ReasonUpdateGap  Reason = "update_gap"
	ReasonTooLong    Reason = "too_long"
	ReasonTooShort   Reason = "too_short"
)

// Overall is the aggregate decision for a recording.
type Overall string

const (
	Accept             Overall = "accept"
	AcceptWithWarnings Overall = "accept_with_warnings"
	Reject             Overall = "reject"
)

// Finding is one data-quality issue. Measured and the expected bounds are
// zero for missing traces. Measured is +Inf for a sensor that never changed.
type Finding struct {
	Key         string   `json:"key"`
	Severity    Severity `json:"severity"`
	Reason      Reason   `json:"reason"`
	Message     string   `json:"message"`
	Measured    float64  `json:"measured"`
	ExpectedMin float64  `json:"expected_min"`
	ExpectedMax float64  `json:"expected_max"`
}

// MarshalJSON writes a non-finite measurement as null, which encoding/json
// cannot represent otherwise.
func (f Finding) MarshalJSON() ([]byte, error) {
	type plain Finding
	out := struct {
		plain
		Measured *float64 `json:"measured"`
	}{plain: plain(f)}
	if !math.IsInf(f.Measured, 0) && !math.IsNaN(f.Measured) {
		out.Measured = &f.Measured
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a null measurement back as +Inf.
func (f *Finding) UnmarshalJSON(data []byte) error {
	type plain Finding
	in := struct {
		*plain
		Measured *float64 `json:"measured"`
	}{plain: (*plain)(f)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Measured == nil {
		f.Measured = math.Inf(1)
		if f.Reason == ReasonMissing {
			f.Measured = 0
		}
	} else {
		f.Measured = *in.Measured
	}
	return nil
}

// Verdict is the outcome of validating one recording.
type Verdict struct {
	Findings      []Finding `json:"findings"`
	ErrorCount    int       `json:"error_count"`
	WarningCount  int       `json:"warning_count"`
	MissingLabels bool      `json:"missing_labels"`
	Overall       Overall   `json:"overall"`
}

// Accepted reports whether the recording is usable, with or without warnings.
func (v Verdict) Accepted() bool {
	return v.Overall == Accept || v.Overall == AcceptWithWarnings
}

// Summary renders the verdict for a terminal, one finding per line followed
// by the outcome.
func (v Verdict) Summary() string {
	var b strings.Builder
	for _, f := range v.Findings {
		switch f.Severity {
		case SeverityError:
			b.WriteString("ERROR   ")
		default:
			b.WriteString("WARNING ")
		}
		b.WriteString(f.Message)
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "%d error(s), %d warning(s): ", v.ErrorCount, v.WarningCount)
	switch {
	case v.ErrorCount > 0:
		b.WriteString("rejected due to the errors above")
	case v.Overall == Reject:
		fmt.Fprintf(&b, "rejected, too many non-essential traces are missing or degraded (check the phone's sensor permissions)")
	case v.Overall == AcceptWithWarnings:
		fmt.Fprintf(&b, "accepted despite %d degraded non-essential trace(s)", v.WarningCount)
	default:
		b.WriteString("accepted")
	}
	b.WriteByte('\n')

	if v.MissingLabels {
		b.WriteString("WARNING recording has no labels\n")
	}
	return b.String()
}
