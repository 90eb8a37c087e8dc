// Package integrity decides whether a recording's sensor traces are good
// enough to use.
//
// A Validator applies a declarative RuleTable (per-key tier, sample-rate
// bounds and maximum update gap) to the traces of one recording and
// aggregates the findings into an accept / accept-with-warnings / reject
// Verdict. Data-quality problems never surface as errors; every problem
// becomes a Finding so one pass reports everything.
package integrity

import (
	"fmt"
	"math"
)

// Trace is the view of a sensor series the validator needs.
// *series.Series satisfies it.
type Trace interface {
	SampleRate() float64
	MaxUpdateGap() float64
	TotalDuration() float64
}

// Options tune the checks that are not part of the rule table.
type Options struct {
	// DurationKey names the trace whose raw anchor span is checked against
	// MinDurationS and MaxDurationS. Empty disables the check.
	DurationKey  string
	MinDurationS float64
	MaxDurationS float64
	// MaxWarnings is the largest warning count that is still accepted.
	MaxWarnings int
}

// DefaultOptions returns the limits used for trial submissions: recordings
// between two minutes and one hour, judged on the board accelerometer, with
// at most 15 warnings.
func DefaultOptions() Options {
	return Options{
		DurationKey:  "ax",
		MinDurationS: 120,
		MaxDurationS: 3600,
		MaxWarnings:  15,
	}
}

// Validator checks recordings against a fixed rule table. It holds no
// per-recording state and is safe for concurrent use.
type Validator struct {
	rules RuleTable
	opts  Options
}

// NewValidator checks the table and options once so that validation itself
// cannot fail.
func NewValidator(rules RuleTable, opts Options) (*Validator, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule table: %w", err)
	}
	if opts.MaxWarnings < 0 {
		return nil, fmt.Errorf("max warnings must be non-negative, got %d", opts.MaxWarnings)
	}
	if opts.DurationKey != "" && opts.MinDurationS > opts.MaxDurationS {
		return nil, fmt.Errorf("min duration %gs exceeds max duration %gs", opts.MinDurationS, opts.MaxDurationS)
	}
	return &Validator{
		rules: append(RuleTable(nil), rules...),
		opts:  opts,
	}, nil
}

// Rules returns a copy of the rule table.
func (v *Validator) Rules() RuleTable { return append(RuleTable(nil), v.rules...) }

// Validate checks every rule in table order, then the recording duration.
// labelsPresent only affects Verdict.MissingLabels.
func (v *Validator) Validate(traces map[string]Trace, labelsPresent bool) Verdict {
	verdict := Verdict{Findings: []Finding{}, MissingLabels: !labelsPresent}

	for _, rule := range v.rules {
		f, ok := checkRule(rule, traces[rule.Key])
		if ok {
			verdict.add(f)
		}
	}

	if tr, ok := traces[v.opts.DurationKey]; ok && v.opts.DurationKey != "" && tr != nil {
		for _, f := range v.checkDuration(tr) {
			verdict.add(f)
		}
	}

	switch {
	case verdict.ErrorCount == 0 && verdict.WarningCount == 0:
		verdict.Overall = Accept
	case verdict.ErrorCount == 0 && verdict.WarningCount <= v.opts.MaxWarnings:
		verdict.Overall = AcceptWithWarnings
	default:
		verdict.Overall = Reject
	}
	return verdict
}

func (v *Verdict) add(f Finding) {
	v.Findings = append(v.Findings, f)
	if f.Severity == SeverityError {
		v.ErrorCount++
	} else {
		v.WarningCount++
	}
}

// checkRule produces at most one finding for a rule: missing, then sample
// rate, then update gap.
func checkRule(rule Rule, tr Trace) (Finding, bool) {
	var sev Severity
	switch rule.Tier {
	case TierRequired:
		sev = SeverityError
	case TierDesired:
		sev = SeverityWarning
	default:
		return Finding{}, false
	}

	if tr == nil {
		msg := fmt.Sprintf("data trace %s missing", rule.Key)
		if rule.Tier == TierRequired {
			msg = "required " + msg
		}
		return Finding{Key: rule.Key, Severity: sev, Reason: ReasonMissing, Message: msg}, true
	}

	if rate := tr.SampleRate(); rate < rule.MinRateHz || rate > rule.MaxRateHz {
		return Finding{
			Key:         rule.Key,
			Severity:    sev,
			Reason:      ReasonSampleRate,
			Message:     fmt.Sprintf("%s data trace %s: unexpected sampling rate %.2fHz (expected [%.2f, %.2f]Hz)", rule.Tier, rule.Key, rate, rule.MinRateHz, rule.MaxRateHz),
			Measured:    rate,
			ExpectedMin: rule.MinRateHz,
			ExpectedMax: rule.MaxRateHz,
		}, true
	}

	if rule.MaxGapS != nil {
		if gap := tr.MaxUpdateGap(); gap > *rule.MaxGapS {
			return Finding{
				Key:         rule.Key,
				Severity:    sev,
				Reason:      ReasonUpdateGap,
				Message:     fmt.Sprintf("%s data trace %s: max update gap exceeded %.2fs (limit %.2fs)", rule.Tier, rule.Key, gap, *rule.MaxGapS),
				Measured:    gap,
				ExpectedMax: *rule.MaxGapS,
			}, true
		}
	}
	return Finding{}, false
}

// checkDuration compares the whole seconds spanned by the trace's packets
// against the configured bounds.
func (v *Validator) checkDuration(tr Trace) []Finding {
	secs := math.Floor(tr.TotalDuration())
	var out []Finding
	if secs > v.opts.MaxDurationS {
		out = append(out, Finding{
			Key:         v.opts.DurationKey,
			Severity:    SeverityError,
			Reason:      ReasonTooLong,
			Message:     fmt.Sprintf("trace is unexpectedly long (%.0f seconds); may be ok for training but not for submission", secs),
			Measured:    secs,
			ExpectedMin: v.opts.MinDurationS,
			ExpectedMax: v.opts.MaxDurationS,
		})
	}
	if secs < v.opts.MinDurationS {
		out = append(out, Finding{
			Key:         v.opts.DurationKey,
			Severity:    SeverityError,
			Reason:      ReasonTooShort,
			Message:     fmt.Sprintf("trace is unexpectedly short (%.0f seconds); may be ok for training but not for submission", secs),
			Measured:    secs,
			ExpectedMin: v.opts.MinDurationS,
			ExpectedMax: v.opts.MaxDurationS,
		})
	}
	return out
}

// TracesOf widens a map of concrete traces, such as map[string]*series.Series,
// for Validate.
func TracesOf[T Trace](m map[string]T) map[string]Trace {
	out := make(map[string]Trace, len(m))
	for k, t := range m {
		out[k] = t
	}
	return out
}
