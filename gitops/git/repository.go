package git

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Pattern: Strategy -- swap hosting platform without
// changing the promotion workflow.

var (
	// ErrNotFound indicates that a path, branch or
	// repository does not exist (or is invisible to the
	// caller).
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied indicates missing permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrConflict indicates a stale revision handle on
	// write.
	ErrConflict = errors.New("revision conflict")

	// ErrAlreadyExists indicates that the object to
	// create is already present.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTransient indicates a network or server failure
	// that persisted after retries were exhausted.
	ErrTransient = errors.New("transient failure")
)

// Info describes a resolved repository.
type Info struct {
	// FullName is the platform-specific repository
	// identifier (e.g. "org/repo").
	FullName string
	// DefaultBranch is the branch pull requests target.
	DefaultBranch string
}

// File is the raw content of a file at a reference
// together with its revision handle.
type File struct {
	Path    string
	Ref     string
	Content []byte
	// Revision is the opaque handle passed back to
	// UpdateFile to detect lost updates.
	Revision string
}

// PullRequest is the minimal view of an open pull
// request.
type PullRequest struct {
	Number     int
	URL        string
	HeadBranch string
	BaseBranch string
}

// NewPullRequest holds the fields of a pull request to
// open.
type NewPullRequest struct {
	Head  string
	Base  string
	Title string
	Body  string
}

// FileUpdate describes a single-file commit.
type FileUpdate struct {
	Path    string
	Branch  string
	Message string
	Content []byte
	// Revision must be the handle read with
	// GetContents; a mismatch yields ErrConflict.
	Revision string
}

// Repository is the hosted repository collaborator.
// All calls block until the platform answers.
type Repository interface {
	Describe(ctx context.Context) (Info, error)
	GetContents(
		ctx context.Context,
		path string,
		ref string,
	) (File, error)
	ListBranches(ctx context.Context) ([]string, error)
	BranchHead(
		ctx context.Context,
		name string,
	) (string, error)
	CreateBranch(
		ctx context.Context,
		name string,
		fromCommit string,
	) error
	DeleteBranch(ctx context.Context, name string) error
	ListOpenPullRequests(
		ctx context.Context,
	) ([]PullRequest, error)
	CreatePullRequest(
		ctx context.Context,
		pr NewPullRequest,
	) (PullRequest, error)
	UpdateFile(ctx context.Context, up FileUpdate) error
	SetLabels(
		ctx context.Context,
		number int,
		labels []string,
	) error
}

// StatusError maps an HTTP status code returned by a
// platform API to one of the package sentinels. It
// returns nil for 2xx codes and wraps cause when
// provided.
func StatusError(code int, cause error) error {
	var sentinel error

	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		sentinel = ErrNotFound
	case code == http.StatusUnauthorized,
		code == http.StatusForbidden:
		sentinel = ErrAccessDenied
	case code == http.StatusConflict,
		code == http.StatusPreconditionFailed:
		sentinel = ErrConflict
	case code == http.StatusTooManyRequests,
		code >= http.StatusInternalServerError:
		sentinel = ErrTransient
	default:
		if cause == nil {
			return fmt.Errorf("unexpected status %d", code)
		}

		return fmt.Errorf(
			"unexpected status %d: %w", code, cause,
		)
	}

	if cause == nil {
		return fmt.Errorf("status %d: %w", code, sentinel)
	}

	return fmt.Errorf(
		"status %d: %w: %w", code, sentinel, cause,
	)
}
