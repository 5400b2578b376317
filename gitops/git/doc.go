// Package git defines the hosted repository abstraction consumed by the
// promotion workflow.
//
// Repository is a strategy interface: implementations exist for GitHub,
// GitLab and Bitbucket Server in sub-packages, plus an in-memory variant in
// memrepo. Implementations translate platform failures into the sentinel
// errors of this package (ErrNotFound, ErrConflict, ...) so callers can
// classify them with errors.Is without knowing the platform.
//
// NewHTTPClient builds the retrying transport shared by the HTTP-based
// strategies. Transient failures (connection errors, 429, 5xx) are retried
// with exponential backoff; everything else is returned on first failure.
package git
