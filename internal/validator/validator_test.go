package validator

import (
	"testing"

	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/types"
)

const goodEntry = `
try {
  lattice.on('userId', function (value) {
    lattice.emit('rendered', { ok: true });
  });
  lattice.ready();
} catch (err) {
  lattice.emit('rendered', { ok: false });
}
`

const goodManifest = `{
  "id": "user-card",
  "name": "User Card",
  "version": "1.2.0",
  "entry": "main.js",
  "protocol_version": 2,
  "ports": {
    "inputs": [{"id": "userId", "type": "object", "capability": "user.selected"}],
    "outputs": [{"id": "rendered", "type": "boolean"}]
  }
}`

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func findCheck(t *testing.T, result types.ValidationResult, category string) types.ValidationCheck {
	t.Helper()
	for _, c := range result.Checks {
		if c.Category == category {
			return c
		}
	}
	t.Fatalf("result has no %s check: %+v", category, result.Checks)
	return types.ValidationCheck{}
}

func TestValidateWellFormedBundle(t *testing.T) {
	v := newTestValidator(t)
	result := v.Validate([]byte(goodManifest), []byte(goodEntry))

	if !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}
	// 100 baseline + ports + ready + error handling, clipped to 100
	if result.Score != 100 {
		t.Errorf("score = %d, want 100", result.Score)
	}
	for _, c := range result.Checks {
		if !c.Passed {
			t.Errorf("check %s failed: %s", c.Category, c.Message)
		}
	}
}

func TestMissingRequiredFieldFailsStructure(t *testing.T) {
	v := newTestValidator(t)
	result := v.Validate([]byte(`{"id": "x", "name": "X"}`), []byte(goodEntry))

	if result.Passed {
		t.Error("manifest without version/entry must not pass")
	}
	check := findCheck(t, result, types.CheckManifestStructure)
	if check.Passed || check.Severity != types.SeverityError {
		t.Errorf("structure check = %+v, want failed error", check)
	}
}

func TestUndeclaredEmittedPortIsWarning(t *testing.T) {
	v := newTestValidator(t)
	entry := []byte(`lattice.emit('nosuch', 1); lattice.ready();`)
	result := v.Validate([]byte(goodManifest), entry)

	check := findCheck(t, result, types.CheckPortDeclarations)
	if check.Passed || check.Severity != types.SeverityWarning {
		t.Errorf("undeclared emit should warn, got %+v", check)
	}
	if !result.Passed {
		t.Error("a warning alone must not fail validation")
	}
}

func TestDuplicatePortIDIsError(t *testing.T) {
	v := newTestValidator(t)
	manifest := `{
	  "id": "dup", "name": "Dup", "version": "1.0.0", "entry": "main.js",
	  "protocol_version": 2,
	  "ports": {"outputs": [
	    {"id": "out", "type": "string"},
	    {"id": "out", "type": "number"}
	  ]}
	}`
	result := v.Validate([]byte(manifest), []byte(goodEntry))

	check := findCheck(t, result, types.CheckPortDeclarations)
	if check.Passed || check.Severity != types.SeverityError {
		t.Errorf("duplicate port id should be an error, got %+v", check)
	}
	if result.Passed {
		t.Error("duplicate port ids must fail validation")
	}
}

func TestProtocolVersionChecks(t *testing.T) {
	v := newTestValidator(t)

	badSemver := `{"id": "x", "name": "X", "version": "one", "entry": "m.js", "protocol_version": 2}`
	result := v.Validate([]byte(badSemver), []byte(goodEntry))
	if check := findCheck(t, result, types.CheckProtocolVersion); check.Passed {
		t.Error("non-semver version should fail")
	}

	tooNew := `{"id": "x", "name": "X", "version": "1.0.0", "entry": "m.js", "protocol_version": 9}`
	result = v.Validate([]byte(tooNew), []byte(goodEntry))
	check := findCheck(t, result, types.CheckProtocolVersion)
	if check.Passed || check.Severity != types.SeverityError {
		t.Errorf("unsupported protocol version should be an error, got %+v", check)
	}

	missing := `{"id": "x", "name": "X", "version": "1.0.0", "entry": "m.js"}`
	result = v.Validate([]byte(missing), []byte(goodEntry))
	check = findCheck(t, result, types.CheckProtocolVersion)
	if check.Passed || check.Severity != types.SeverityWarning {
		t.Errorf("missing protocol version should warn, got %+v", check)
	}
}

func TestDeprecatedAPIWarns(t *testing.T) {
	v := newTestValidator(t)
	entry := []byte(`lattice.send('x', 1); lattice.ready();`)
	result := v.Validate([]byte(goodManifest), entry)

	check := findCheck(t, result, types.CheckDeprecatedAPI)
	if check.Passed || check.Severity != types.SeverityWarning {
		t.Errorf("deprecated API should warn, got %+v", check)
	}
}

func TestDynamicCodeExecutionWarns(t *testing.T) {
	v := newTestValidator(t)
	entry := []byte(`eval("1+1"); lattice.ready();`)
	result := v.Validate([]byte(goodManifest), entry)

	check := findCheck(t, result, types.CheckStaticSafety)
	if check.Passed || check.Severity != types.SeverityWarning {
		t.Errorf("eval should trip the safety heuristic, got %+v", check)
	}
}

func TestBinaryEntryRejected(t *testing.T) {
	v := newTestValidator(t)
	entry := []byte{0x7f, 'E', 'L', 'F', 0x02, 0x01, 0x01, 0x00, 0x00, 0x00}
	result := v.Validate([]byte(goodManifest), entry)

	check := findCheck(t, result, types.CheckStaticSafety)
	if check.Passed || check.Severity != types.SeverityError {
		t.Errorf("binary entry should be an error, got %+v", check)
	}
	if result.Passed {
		t.Error("binary entry must fail validation")
	}
}

func TestMissingReadyIsAdvisoryOnly(t *testing.T) {
	v := newTestValidator(t)
	entry := []byte(`lattice.on('userId', function () {});`)
	result := v.Validate([]byte(goodManifest), entry)

	check := findCheck(t, result, types.CheckLifecycleSignals)
	if check.Passed || check.Severity != types.SeverityInfo {
		t.Errorf("missing ready should be info severity, got %+v", check)
	}
	if !result.Passed {
		t.Error("info-severity findings must not fail validation")
	}
}

// Each additional error-severity failure moves the score down by
// exactly the error penalty, clipped at zero.
func TestScoreMonotonicity(t *testing.T) {
	base := []types.ValidationCheck{
		{Category: types.CheckManifestStructure, Passed: true, Severity: types.SeverityError},
	}
	prev := score(base, 0)
	if prev != 100 {
		t.Fatalf("clean baseline score = %d, want 100", prev)
	}

	checks := base
	for i := 0; i < 8; i++ {
		checks = append(checks, types.ValidationCheck{
			Category: types.CheckStaticSafety,
			Passed:   false,
			Severity: types.SeverityError,
		})
		got := score(checks, 0)
		want := prev - errorPenalty
		if want < 0 {
			want = 0
		}
		if got != want {
			t.Fatalf("after %d errors score = %d, want %d", i+1, got, want)
		}
		prev = got
	}
}

func TestWarningPenalty(t *testing.T) {
	checks := []types.ValidationCheck{
		{Category: types.CheckDeprecatedAPI, Passed: false, Severity: types.SeverityWarning},
		{Category: types.CheckPortDeclarations, Passed: false, Severity: types.SeverityWarning},
	}
	if got := score(checks, 0); got != 90 {
		t.Errorf("two warnings score = %d, want 90", got)
	}
}

func TestBonusesClipAtHundred(t *testing.T) {
	if got := score(nil, 10); got != 100 {
		t.Errorf("bonus-only score = %d, want clipped 100", got)
	}
}

func TestV1ManifestMigratesAndValidates(t *testing.T) {
	v := newTestValidator(t)
	v1 := `{
	  "id": "legacy", "name": "Legacy", "version": "0.9.0", "entry": "main.js",
	  "protocol": 1,
	  "inputs": [{"id": "in", "type": "string"}],
	  "outputs": [{"id": "out", "type": "string"}]
	}`
	entry := []byte(`lattice.on('in', function (x) { lattice.emit('out', x); }); lattice.ready();`)
	result := v.Validate([]byte(v1), entry)

	if !result.Passed {
		t.Fatalf("migrated v1 manifest should pass, got %+v", result)
	}
	if check := findCheck(t, result, types.CheckProtocolVersion); !check.Passed {
		t.Errorf("v1 protocol field should migrate to protocol_version: %+v", check)
	}
}

func TestTwoNodeCycleFlaggedNotRejected(t *testing.T) {
	conns := []types.PipelineConnection{
		{ID: "c1", From: types.PortRef{NodeID: "a", PortID: "out"}, To: types.PortRef{NodeID: "b", PortID: "in"}, Enabled: true},
		{ID: "c2", From: types.PortRef{NodeID: "b", PortID: "out"}, To: types.PortRef{NodeID: "a", PortID: "in"}, Enabled: true},
	}
	check := CheckGraphShape(conns)
	if check.Passed || check.Severity != types.SeverityWarning {
		t.Errorf("direct cycle should warn, got %+v", check)
	}

	acyclic := conns[:1]
	if check := CheckGraphShape(acyclic); !check.Passed {
		t.Errorf("acyclic graph flagged: %+v", check)
	}
}
