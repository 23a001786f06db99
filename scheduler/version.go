package scheduler

import "github.com/Masterminds/semver"

// CompareScriptVersions orders two scheduler scripts for display/selection
// purposes. Scripts tagged with a valid semantic version in name compare by
// semver precedence; otherwise the plain numeric Version field is the
// tiebreak, matching the storage layer's own `version DESC, id DESC`
// selection order.
func CompareScriptVersions(aTag string, aVersion int, bTag string, bVersion int) int {
	av, aErr := semver.NewVersion(aTag)
	bv, bErr := semver.NewVersion(bTag)
	if aErr == nil && bErr == nil {
		return av.Compare(bv)
	}
	switch {
	case aVersion > bVersion:
		return 1
	case aVersion < bVersion:
		return -1
	default:
		return 0
	}
}
