package util

import "errors"

// Error taxonomy shared by the upgrade core and its callers. Operations wrap
// one of these with context; callers match with errors.Is.
var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyInProgress means an admin node upgrade is already running.
	ErrAlreadyInProgress = errors.New("upgrade already in progress")

	// ErrScriptMissing means the upgrade script is not installed.
	ErrScriptMissing = errors.New("upgrade script missing")

	// ErrPackageManagerLocked means another process holds the package manager lock.
	ErrPackageManagerLocked = errors.New("package manager locked")

	// ErrExternalCommandFailed covers unexpected exits and unparseable output of delegated tools.
	ErrExternalCommandFailed = errors.New("external command failed")

	// ErrNodeMutationFailed means a node record could not be updated.
	ErrNodeMutationFailed = errors.New("node mutation failed")

	// ErrStateUnavailable means the upgrade markers could not be read or removed.
	ErrStateUnavailable = errors.New("upgrade state unavailable")
)

// Kind names the taxonomy entry err belongs to, or "internal" if none.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyInProgress):
		return "already_in_progress"
	case errors.Is(err, ErrScriptMissing):
		return "script_missing"
	case errors.Is(err, ErrPackageManagerLocked):
		return "package_manager_locked"
	case errors.Is(err, ErrExternalCommandFailed):
		return "external_command_failed"
	case errors.Is(err, ErrNodeMutationFailed):
		return "node_mutation_failed"
	case errors.Is(err, ErrStateUnavailable):
		return "state_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
