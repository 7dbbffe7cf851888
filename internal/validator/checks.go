package validator

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"

	"github.com/latticehq/lattice/backend/internal/shared/types"
)

// Entry script scan patterns. These are heuristics over source text,
// not a parser; false negatives are acceptable, the sandbox is the real
// boundary.
var (
	emitPattern  = regexp.MustCompile(`lattice\s*\.\s*emit\s*\(\s*['"]([^'"]+)['"]`)
	onPattern    = regexp.MustCompile(`lattice\s*\.\s*on\s*\(\s*['"]([^'"]+)['"]`)
	readyPattern = regexp.MustCompile(`lattice\s*\.\s*ready\s*\(`)
	catchPattern = regexp.MustCompile(`\bcatch\s*[({]`)
)

// deprecatedAPIs were removed from the sandbox surface; scripts calling
// them run but their calls do nothing.
var deprecatedAPIs = []string{
	"lattice.send(",
	"lattice.broadcastSync(",
	"widget.postMessage(",
}

// unsafePatterns trip the static-safety heuristic on script entries
var unsafePatterns = []string{
	"eval(",
	"new Function(",
	"document.write(",
}

func referencedEmitPorts(entry []byte) []string {
	return captureAll(emitPattern, entry)
}

func referencedInputPorts(entry []byte) []string {
	return captureAll(onPattern, entry)
}

func captureAll(re *regexp.Regexp, entry []byte) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range re.FindAllSubmatch(entry, -1) {
		portID := string(m[1])
		if _, dup := seen[portID]; dup {
			continue
		}
		seen[portID] = struct{}{}
		out = append(out, portID)
	}
	return out
}

func hasReadySignal(entry []byte) bool {
	return readyPattern.Match(entry)
}

func hasErrorHandling(entry []byte) bool {
	return catchPattern.Match(entry)
}

// checkDeprecatedAPIs scans the entry for removed sandbox calls
func checkDeprecatedAPIs(entry []byte) types.ValidationCheck {
	check := types.ValidationCheck{
		Category: types.CheckDeprecatedAPI,
		Severity: types.SeverityWarning,
	}
	for _, api := range deprecatedAPIs {
		if bytes.Contains(entry, []byte(api)) {
			check.Message = fmt.Sprintf("entry calls deprecated API %q", strings.TrimSuffix(api, "("))
			return check
		}
	}
	check.Passed = true
	return check
}

// checkStaticSafety applies content-type and markup heuristics to the
// entry. Binary entries are refused outright; HTML entries must survive
// sanitization unchanged; scripts must avoid dynamic code execution.
func checkStaticSafety(entry []byte) types.ValidationCheck {
	check := types.ValidationCheck{
		Category: types.CheckStaticSafety,
		Severity: types.SeverityError,
	}
	if len(entry) == 0 {
		check.Message = "entry resource is empty"
		return check
	}

	detected := mimetype.Detect(entry)
	switch {
	case detected.Is("text/html"):
		policy := bluemonday.UGCPolicy()
		sanitized := policy.SanitizeBytes(entry)
		if !bytes.Equal(bytes.TrimSpace(sanitized), bytes.TrimSpace(entry)) {
			check.Severity = types.SeverityWarning
			check.Message = "html entry contains markup outside the safe subset"
			return check
		}
	case strings.HasPrefix(detected.String(), "text/"),
		detected.Is("application/javascript"),
		detected.Is("application/json"):
		// script or text entry, scanned below
	default:
		check.Message = fmt.Sprintf("entry content type %s is not a supported text resource", detected)
		return check
	}

	for _, pattern := range unsafePatterns {
		if bytes.Contains(entry, []byte(pattern)) {
			check.Severity = types.SeverityWarning
			check.Message = fmt.Sprintf("entry uses dynamic code execution (%q)", strings.TrimSuffix(pattern, "("))
			return check
		}
	}

	check.Passed = true
	return check
}

// checkLifecycleSignals verifies the entry performs the READY
// handshake. Advisory only: a widget that never signals will fail its
// handshake at mount time anyway.
func checkLifecycleSignals(entry []byte) types.ValidationCheck {
	check := types.ValidationCheck{
		Category: types.CheckLifecycleSignals,
		Severity: types.SeverityInfo,
	}
	if !hasReadySignal(entry) {
		check.Message = "entry never calls lattice.ready()"
		return check
	}
	check.Passed = true
	return check
}

// CheckGraphShape flags suspicious connection graph shapes. A direct
// two-node cycle is legal to create and merely flagged here, never
// rejected.
func CheckGraphShape(connections []types.PipelineConnection) types.ValidationCheck {
	check := types.ValidationCheck{
		Category: types.CheckGraphShape,
		Severity: types.SeverityWarning,
	}

	edges := make(map[string]map[string]struct{})
	for _, conn := range connections {
		if !conn.Enabled {
			continue
		}
		if edges[conn.From.NodeID] == nil {
			edges[conn.From.NodeID] = make(map[string]struct{})
		}
		edges[conn.From.NodeID][conn.To.NodeID] = struct{}{}
	}
	for from, targets := range edges {
		for to := range targets {
			if from == to {
				check.Message = fmt.Sprintf("node %s is connected to itself", from)
				return check
			}
			if _, back := edges[to][from]; back {
				check.Message = fmt.Sprintf("nodes %s and %s form a direct cycle", from, to)
				return check
			}
		}
	}

	check.Passed = true
	return check
}
