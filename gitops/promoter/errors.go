package promoter

import "errors"

var (
	// ErrInvalidRequest is returned for a component or
	// environment that cannot be promoted.
	ErrInvalidRequest = errors.New("invalid promotion request")

	// ErrRepositoryAccess is returned when the manifest
	// repository cannot be resolved.
	ErrRepositoryAccess = errors.New("repository not accessible")

	// ErrManifestNotFound is returned when a manifest
	// path does not exist at the requested reference.
	ErrManifestNotFound = errors.New("manifest not found")

	// ErrManifestParse is returned when a manifest cannot
	// be parsed or does not carry the tag field.
	ErrManifestParse = errors.New("manifest parse error")

	// ErrBranchUnavailable is returned when the
	// promotion branch cannot be created because the
	// repository is inaccessible or empty. Not retried.
	ErrBranchUnavailable = errors.New("promotion branch unavailable")

	// ErrStaleWrite is returned when the manifest changed
	// between read and commit. The caller must re-run.
	ErrStaleWrite = errors.New("stale manifest write")
)
