// Package auth implements the pre-handler authorization pipeline: a set of
// independent checks composed with per-check timeouts and circuit breakers.
// The pipeline never raises to the handler; it reports continue or ignored.
package auth

import "fmt"

// SkipPluginError aborts the handler. Info is user-facing.
type SkipPluginError struct {
	Info string
}

func (e *SkipPluginError) Error() string {
	return fmt.Sprintf("plugin skipped: %s", e.Info)
}

// Skip builds a SkipPluginError.
func Skip(format string, args ...any) error {
	return &SkipPluginError{Info: fmt.Sprintf(format, args...)}
}

// IsSuperuserError short-circuits the cost steps; the handler still runs.
type IsSuperuserError struct{}

func (e *IsSuperuserError) Error() string {
	return "superuser exemption"
}

// PermissionExemptionError reports non-fatal absence of prerequisites; the
// handler runs without cost.
type PermissionExemptionError struct {
	Info string
}

func (e *PermissionExemptionError) Error() string {
	return fmt.Sprintf("permission exemption: %s", e.Info)
}

// Exempt builds a PermissionExemptionError.
func Exempt(format string, args ...any) error {
	return &PermissionExemptionError{Info: fmt.Sprintf(format, args...)}
}
