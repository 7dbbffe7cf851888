package validator

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/bytedance/sonic"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/infrastructure/monitoring"
	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/types"
)

// Protocol versions this host can drive
const (
	MinProtocolVersion = 1
	MaxProtocolVersion = 2
)

// Score adjustments
const (
	errorPenalty   = 20
	warningPenalty = 5

	bonusPortsDeclared = 3
	bonusReadySignal   = 5
	bonusErrorHandling = 2
)

// Validator runs bundle checks. Safe for concurrent use; it holds only
// the compiled schema.
type Validator struct {
	schema  *gojsonschema.Schema
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// New compiles the manifest schema and returns a validator
func New(logger *logging.Logger) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(manifestSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling manifest schema: %w", err)
	}
	return &Validator{
		schema: schema,
		logger: logger.Component("validator"),
	}, nil
}

// WithMetrics adds metrics tracking to the validator
func (v *Validator) WithMetrics(metrics *monitoring.Metrics) *Validator {
	v.metrics = metrics
	return v
}

// Validate checks a manifest document plus its entry resource and
// returns the structured verdict. rawManifest may be any supported
// document version; it is migrated before checking.
func (v *Validator) Validate(rawManifest, entry []byte) types.ValidationResult {
	var checks []types.ValidationCheck
	var manifest *types.WidgetManifest

	migrated, structure := v.checkStructure(rawManifest)
	checks = append(checks, structure)
	if structure.Passed {
		manifest = decodeManifest(migrated)
	}

	if manifest != nil {
		checks = append(checks, v.checkPortDeclarations(manifest, entry))
		checks = append(checks, v.checkProtocolVersion(manifest))
	}
	checks = append(checks, checkDeprecatedAPIs(entry))
	checks = append(checks, checkStaticSafety(entry))
	checks = append(checks, checkLifecycleSignals(entry))

	result := types.ValidationResult{
		Passed: passed(checks),
		Score:  score(checks, bonuses(manifest, entry)),
		Checks: checks,
	}

	if v.metrics != nil {
		v.metrics.ValidationRuns.Inc()
		v.metrics.ValidationScores.Observe(float64(result.Score))
	}
	v.logger.Info("Validated bundle",
		zap.Bool("passed", result.Passed),
		zap.Int("score", result.Score),
		zap.Int("checks", len(result.Checks)),
	)
	return result
}

// checkStructure migrates the document and validates it against the
// manifest schema. Returns the migrated document for later checks.
func (v *Validator) checkStructure(rawManifest []byte) ([]byte, types.ValidationCheck) {
	check := types.ValidationCheck{
		Category: types.CheckManifestStructure,
		Severity: types.SeverityError,
	}

	var doc map[string]interface{}
	if err := sonic.Unmarshal(rawManifest, &doc); err != nil {
		check.Message = fmt.Sprintf("manifest is not a JSON object: %v", err)
		return nil, check
	}
	doc, err := Migrate(doc)
	if err != nil {
		check.Message = err.Error()
		return nil, check
	}
	migrated, err := sonic.Marshal(doc)
	if err != nil {
		check.Message = err.Error()
		return nil, check
	}

	verdict, err := v.schema.Validate(gojsonschema.NewBytesLoader(migrated))
	if err != nil {
		check.Message = fmt.Sprintf("schema validation failed to run: %v", err)
		return nil, check
	}
	if !verdict.Valid() {
		check.Message = verdict.Errors()[0].String()
		return nil, check
	}

	check.Passed = true
	return migrated, check
}

func decodeManifest(migrated []byte) *types.WidgetManifest {
	var m types.WidgetManifest
	if err := sonic.Unmarshal(migrated, &m); err != nil {
		return nil
	}
	return &m
}

// checkPortDeclarations verifies port id uniqueness per direction and
// cross-references the ids the entry script actually uses. A script
// emitting on an undeclared port is the silent-routing-failure class;
// surfaced here as a warning, never a crash.
func (v *Validator) checkPortDeclarations(manifest *types.WidgetManifest, entry []byte) types.ValidationCheck {
	check := types.ValidationCheck{
		Category: types.CheckPortDeclarations,
		Severity: types.SeverityWarning,
	}

	if dup := firstDuplicate(manifest.Ports.Inputs); dup != "" {
		check.Severity = types.SeverityError
		check.Message = fmt.Sprintf("duplicate input port id %q", dup)
		return check
	}
	if dup := firstDuplicate(manifest.Ports.Outputs); dup != "" {
		check.Severity = types.SeverityError
		check.Message = fmt.Sprintf("duplicate output port id %q", dup)
		return check
	}

	for _, portID := range referencedEmitPorts(entry) {
		if _, ok := manifest.Output(portID); !ok {
			check.Message = fmt.Sprintf("entry emits on undeclared output port %q", portID)
			return check
		}
	}
	for _, portID := range referencedInputPorts(entry) {
		if _, ok := manifest.Input(portID); !ok {
			check.Message = fmt.Sprintf("entry listens on undeclared input port %q", portID)
			return check
		}
	}

	check.Passed = true
	return check
}

// checkProtocolVersion verifies the manifest version is semver and the
// protocol version is one this host can drive.
func (v *Validator) checkProtocolVersion(manifest *types.WidgetManifest) types.ValidationCheck {
	check := types.ValidationCheck{
		Category: types.CheckProtocolVersion,
		Severity: types.SeverityError,
	}

	if _, err := semver.NewVersion(manifest.Version); err != nil {
		check.Message = fmt.Sprintf("version %q is not semver: %v", manifest.Version, err)
		return check
	}
	if manifest.ProtocolVersion == 0 {
		check.Severity = types.SeverityWarning
		check.Message = "manifest declares no protocol_version"
		return check
	}
	if manifest.ProtocolVersion < MinProtocolVersion || manifest.ProtocolVersion > MaxProtocolVersion {
		check.Message = fmt.Sprintf("protocol version %d outside supported range [%d,%d]",
			manifest.ProtocolVersion, MinProtocolVersion, MaxProtocolVersion)
		return check
	}

	check.Passed = true
	return check
}

func firstDuplicate(ports []types.PortDefinition) string {
	seen := make(map[string]struct{}, len(ports))
	for _, p := range ports {
		if _, dup := seen[p.ID]; dup {
			return p.ID
		}
		seen[p.ID] = struct{}{}
	}
	return ""
}

// passed is true iff no error-severity check failed
func passed(checks []types.ValidationCheck) bool {
	for _, c := range checks {
		if !c.Passed && c.Severity == types.SeverityError {
			return false
		}
	}
	return true
}

// score aggregates checks into the advisory 0..100 quality signal
func score(checks []types.ValidationCheck, bonus int) int {
	s := 100
	for _, c := range checks {
		if c.Passed {
			continue
		}
		switch c.Severity {
		case types.SeverityError:
			s -= errorPenalty
		case types.SeverityWarning:
			s -= warningPenalty
		}
	}
	s += bonus
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// bonuses rewards positive signals a merely non-failing bundle lacks
func bonuses(manifest *types.WidgetManifest, entry []byte) int {
	bonus := 0
	if manifest != nil && len(manifest.Ports.Inputs)+len(manifest.Ports.Outputs) > 0 {
		bonus += bonusPortsDeclared
	}
	if hasReadySignal(entry) {
		bonus += bonusReadySignal
	}
	if hasErrorHandling(entry) {
		bonus += bonusErrorHandling
	}
	return bonus
}
