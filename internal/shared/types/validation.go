package types

// Severity ranks validation check failures
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Validation check categories
const (
	CheckManifestStructure = "manifest_structure"
	CheckPortDeclarations  = "port_declarations"
	CheckProtocolVersion   = "protocol_version"
	CheckDeprecatedAPI     = "deprecated_api"
	CheckStaticSafety      = "static_safety"
	CheckLifecycleSignals  = "lifecycle_signals"
	CheckGraphShape        = "graph_shape"
)

// ValidationCheck is one category outcome within a validation run
type ValidationCheck struct {
	Category string   `json:"category"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`
}

// ValidationResult is the validator's structured verdict. Passed is true
// iff zero error-severity checks failed; the score is an advisory quality
// signal in [0,100], not a gate. Computed fresh on every submission.
type ValidationResult struct {
	Passed bool              `json:"passed"`
	Score  int               `json:"score"`
	Checks []ValidationCheck `json:"checks"`
}

// Errors returns the failed error-severity checks.
func (r *ValidationResult) Errors() []ValidationCheck {
	var out []ValidationCheck
	for _, c := range r.Checks {
		if !c.Passed && c.Severity == SeverityError {
			out = append(out, c)
		}
	}
	return out
}

// Warnings returns the failed warning-severity checks.
func (r *ValidationResult) Warnings() []ValidationCheck {
	var out []ValidationCheck
	for _, c := range r.Checks {
		if !c.Passed && c.Severity == SeverityWarning {
			out = append(out, c)
		}
	}
	return out
}
