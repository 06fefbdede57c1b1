package semver

import (
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

// VersionRecord is one registered version of a type.
type VersionRecord struct {
	ID      string
	Version string
}

// ResolveVersion finds the best matching version for a given range.
//
// An empty range selects the highest stable version (or the highest
// prerelease if nothing stable exists). Major-only ranges select the
// highest version in that major. Anything else is parsed as a SemVer
// constraint and, failing that, compared as an exact version string.
// Records with an empty Version only match an empty range.
func ResolveVersion(versions []VersionRecord, rangeStr string) *VersionRecord {
	if len(versions) == 0 {
		return nil
	}

	if rangeStr == "" {
		return highest(versions, nil)
	}

	if IsMajorOnly(rangeStr) {
		major := uint64(ExtractMajorFromRange(rangeStr))
		return highest(versions, func(v *masterminds.Version) bool {
			return v.Major() == major
		})
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		for i := range versions {
			if versions[i].Version == rangeStr {
				return &versions[i]
			}
		}
		return nil
	}
	return highest(versions, constraint.Check)
}

// SatisfiesRange checks if a version string satisfies a range.
// An empty range is satisfied by every version, including an unversioned one.
func SatisfiesRange(version, rangeStr string) bool {
	if rangeStr == "" || rangeStr == "*" {
		return true
	}
	if version == "" {
		return false
	}

	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return version == rangeStr
	}

	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return version == rangeStr
	}
	return constraint.Check(sv)
}

// --- internal helpers ---

type parsedRecord struct {
	rec *VersionRecord
	sv  *masterminds.Version
}

func highest(versions []VersionRecord, match func(*masterminds.Version) bool) *VersionRecord {
	var candidates []parsedRecord
	var unversioned *VersionRecord
	for i := range versions {
		if versions[i].Version == "" {
			if unversioned == nil {
				unversioned = &versions[i]
			}
			continue
		}
		sv, err := masterminds.NewVersion(versions[i].Version)
		if err != nil {
			continue
		}
		if match != nil && !match(sv) {
			continue
		}
		candidates = append(candidates, parsedRecord{rec: &versions[i], sv: sv})
	}

	if len(candidates) == 0 {
		if match == nil {
			return unversioned
		}
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].sv.GreaterThan(candidates[j].sv)
	})

	// Prefer the latest stable release over prereleases.
	for _, c := range candidates {
		if c.sv.Prerelease() == "" {
			return c.rec
		}
	}
	return candidates[0].rec
}
