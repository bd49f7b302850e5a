// Package versionutil normalizes the build version string reported by
// `thub version` and the startup log.
package versionutil

import "strings"

// Dev is the placeholder version of builds without -ldflags.
const Dev = "dev"

// EnsureVPrefix returns s with a leading "v" if it doesn't already have one.
func EnsureVPrefix(s string) string {
	if s != "" && !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}

// Resolve returns the version to report. A release build keeps its
// stamped version with a "v" prefix. A dev build asks describe (usually
// `git describe`) and reports "<describe>-dev" when that succeeds.
func Resolve(stamped string, describe func() (string, error)) string {
	stamped = strings.TrimSpace(stamped)
	if stamped != "" && stamped != Dev {
		return EnsureVPrefix(stamped)
	}
	if describe == nil {
		return Dev
	}
	desc, err := describe()
	if err != nil {
		return Dev
	}
	if desc = strings.TrimSpace(desc); desc == "" {
		return Dev
	}
	return desc + "-dev"
}
