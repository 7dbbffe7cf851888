package validator

import (
	"fmt"
)

// CurrentManifestVersion is the manifest document shape this host
// understands natively.
const CurrentManifestVersion = 2

// migration rewrites a manifest document of one version into the next
type migration func(doc map[string]interface{}) error

// migrations is the chain from each version to its successor. A v1
// document runs migrations[1], then migrations[2] if it existed, and so
// on up to CurrentManifestVersion.
var migrations = map[int]migration{
	1: migrateV1toV2,
}

// Migrate rewrites an older manifest document into the current shape,
// one version at a time. Documents without a manifest_version field are
// assumed current.
func Migrate(doc map[string]interface{}) (map[string]interface{}, error) {
	version := docVersion(doc)
	if version > CurrentManifestVersion {
		return nil, fmt.Errorf("manifest document version %d is newer than supported %d", version, CurrentManifestVersion)
	}
	for version < CurrentManifestVersion {
		step, ok := migrations[version]
		if !ok {
			return nil, fmt.Errorf("no migration from manifest document version %d", version)
		}
		if err := step(doc); err != nil {
			return nil, fmt.Errorf("migrating manifest document v%d: %w", version, err)
		}
		version++
		doc["manifest_version"] = version
	}
	return doc, nil
}

func docVersion(doc map[string]interface{}) int {
	switch v := doc["manifest_version"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	// v1 documents predate the field but are recognizable by their
	// top-level port arrays
	if _, ok := doc["inputs"]; ok {
		return 1
	}
	if _, ok := doc["outputs"]; ok {
		return 1
	}
	return CurrentManifestVersion
}

// migrateV1toV2 nests the old top-level inputs/outputs arrays under
// "ports" and renames the old "protocol" field to "protocol_version".
func migrateV1toV2(doc map[string]interface{}) error {
	ports := map[string]interface{}{}
	if in, ok := doc["inputs"]; ok {
		ports["inputs"] = in
		delete(doc, "inputs")
	}
	if out, ok := doc["outputs"]; ok {
		ports["outputs"] = out
		delete(doc, "outputs")
	}
	if len(ports) > 0 {
		if _, exists := doc["ports"]; exists {
			return fmt.Errorf("document mixes v1 top-level ports with a v2 ports object")
		}
		doc["ports"] = ports
	}
	if p, ok := doc["protocol"]; ok {
		doc["protocol_version"] = p
		delete(doc, "protocol")
	}
	return nil
}
