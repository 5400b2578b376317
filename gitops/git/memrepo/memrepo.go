package memrepo

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/byte4ever/tagpromoter/gitops/digester"
	"github.com/byte4ever/tagpromoter/gitops/git"
)

// Op names a repository operation in the journal and
// in failure injection.
type Op string

// Repository operations.
const (
	OpDescribe     Op = "describe"
	OpGetContents  Op = "get-contents"
	OpListBranches Op = "list-branches"
	OpBranchHead   Op = "branch-head"
	OpCreateBranch Op = "create-branch"
	OpDeleteBranch Op = "delete-branch"
	OpListPulls    Op = "list-pulls"
	OpCreatePull   Op = "create-pull"
	OpUpdateFile   Op = "update-file"
	OpSetLabels    Op = "set-labels"
)

// Mutation is a journal entry for a state-changing
// call.
type Mutation struct {
	Op     Op
	Target string
}

type commit struct {
	id    string
	files map[string][]byte
}

// Repo is an in-memory git.Repository. The zero value
// is not usable; create with New.
type Repo struct {
	mu sync.Mutex

	name          string
	defaultBranch string
	baseURL       string

	commits  map[string]*commit
	branches map[string]string
	pulls    []git.PullRequest
	labels   map[int][]string
	nextID   int

	failures map[Op]error
	journal  []Mutation
}

// New returns an empty repository whose default branch
// points at an empty commit.
func New(name string, defaultBranch string) *Repo {
	r := &Repo{
		name:          name,
		defaultBranch: defaultBranch,
		baseURL:       "https://git.example.invalid/" + name,
		commits:       make(map[string]*commit),
		branches:      make(map[string]string),
		labels:        make(map[int][]string),
		failures:      make(map[Op]error),
	}

	root := r.newCommit(nil)
	r.branches[defaultBranch] = root.id

	return r
}

// LoadDir seeds branch with every regular file found
// under dir, using slash-separated relative paths.
func (r *Repo) LoadDir(branch string, dir string) error {
	const errCtx = "loading directory"

	return filepath.WalkDir(
		dir,
		func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return fmt.Errorf("%s: %w", errCtx, err)
			}

			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return fmt.Errorf("%s: %w", errCtx, err)
			}

			content, err := os.ReadFile(p) //nolint:gosec // caller-provided directory
			if err != nil {
				return fmt.Errorf("%s: %w", errCtx, err)
			}

			r.SetFile(
				branch, filepath.ToSlash(rel), content,
			)

			return nil
		},
	)
}

// SetFile commits content at path on branch without
// journaling, creating the branch from the default
// branch when needed. Intended for seeding.
func (r *Repo) SetFile(
	branch string,
	path string,
	content []byte,
) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, ok := r.branches[branch]
	if !ok {
		head = r.branches[r.defaultBranch]
	}

	files := maps.Clone(r.commits[head].files)
	files[path] = slices.Clone(content)

	r.branches[branch] = r.newCommit(files).id
}

// AddPullRequest registers an open pull request without
// journaling and returns it.
func (r *Repo) AddPullRequest(
	head string,
	base string,
) git.PullRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.addPull(head, base)
}

// Fail makes every subsequent call of op return err.
// Pass a nil error to clear the failure.
func (r *Repo) Fail(op Op, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		delete(r.failures, op)

		return
	}

	r.failures[op] = err
}

// Journal returns the mutations recorded so far.
func (r *Repo) Journal() []Mutation {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.journal)
}

// Labels returns the labels set on pull request number.
func (r *Repo) Labels(number int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.labels[number])
}

// File returns the content of path on branch and
// whether it exists.
func (r *Repo) File(branch string, path string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, ok := r.branches[branch]
	if !ok {
		return nil, false
	}

	content, ok := r.commits[head].files[path]

	return slices.Clone(content), ok
}

// PullRequests returns all open pull requests.
func (r *Repo) PullRequests() []git.PullRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.pulls)
}

// Describe implements git.Repository.
func (r *Repo) Describe(_ context.Context) (git.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failure(OpDescribe); err != nil {
		return git.Info{}, err
	}

	return git.Info{
		FullName:      r.name,
		DefaultBranch: r.defaultBranch,
	}, nil
}

// GetContents implements git.Repository.
func (r *Repo) GetContents(
	_ context.Context,
	path string,
	ref string,
) (git.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failure(OpGetContents); err != nil {
		return git.File{}, err
	}

	files, err := r.filesAt(ref)
	if err != nil {
		return git.File{}, err
	}

	content, ok := files[path]
	if !ok {
		return git.File{}, fmt.Errorf(
			"%s@%s: %w", path, ref, git.ErrNotFound,
		)
	}

	return git.File{
		Path:     path,
		Ref:      ref,
		Content:  slices.Clone(content),
		Revision: digester.BlobSHA(content),
	}, nil
}

// ListBranches implements git.Repository.
func (r *Repo) ListBranches(
	_ context.Context,
) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failure(OpListBranches); err != nil {
		return nil, err
	}

	return slices.Sorted(maps.Keys(r.branches)), nil
}

// BranchHead implements git.Repository.
func (r *Repo) BranchHead(
	_ context.Context,
	name string,
) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failure(OpBranchHead); err != nil {
		return "", err
	}

	head, ok := r.branches[name]
	if !ok {
		return "", fmt.Errorf(
			"branch %s: %w", name, git.ErrNotFound,
		)
	}

	return head, nil
}

// CreateBranch implements git.Repository.
func (r *Repo) CreateBranch(
	_ context.Context,
	name string,
	fromCommit string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failure(OpCreateBranch); err != nil {
		return err
	}

	if _, ok := r.branches[name]; ok {
		return fmt.Errorf(
			"branch %s: %w", name, git.ErrAlreadyExists,
		)
	}

	if _, ok := r.commits[fromCommit]; !ok {
		return fmt.Errorf(
			"commit %s: %w", fromCommit, git.ErrNotFound,
		)
	}

	r.branches[name] = fromCommit
	r.record(OpCreateBranch, name)

	return nil
}

// DeleteBranch implements git.Repository.
func (r *Repo) DeleteBranch(
	_ context.Context,
	name string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failure(OpDeleteBranch); err != nil {
		return err
	}

	if _, ok := r.branches[name]; !ok {
		return fmt.Errorf(
			"branch %s: %w", name, git.ErrNotFound,
		)
	}

	delete(r.branches, name)
	r.record(OpDeleteBranch, name)

	return nil
}

// ListOpenPullRequests implements git.Repository.
func (r *Repo) ListOpenPullRequests(
	_ context.Context,
) ([]git.PullRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failure(OpListPulls); err != nil {
		return nil, err
	}

	return slices.Clone(r.pulls), nil
}

// CreatePullRequest implements git.Repository.
func (r *Repo) CreatePullRequest(
	_ context.Context,
	pr git.NewPullRequest,
) (git.PullRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failure(OpCreatePull); err != nil {
		return git.PullRequest{}, err
	}

	if _, ok := r.branches[pr.Head]; !ok {
		return git.PullRequest{}, fmt.Errorf(
			"head %s: %w", pr.Head, git.ErrNotFound,
		)
	}

	for _, open := range r.pulls {
		if open.HeadBranch == pr.Head &&
			open.BaseBranch == pr.Base {
			return git.PullRequest{}, fmt.Errorf(
				"pull request for %s: %w",
				pr.Head, git.ErrAlreadyExists,
			)
		}
	}

	created := r.addPull(pr.Head, pr.Base)
	r.record(OpCreatePull, pr.Head)

	return created, nil
}

// UpdateFile implements git.Repository.
func (r *Repo) UpdateFile(
	_ context.Context,
	up git.FileUpdate,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failure(OpUpdateFile); err != nil {
		return err
	}

	head, ok := r.branches[up.Branch]
	if !ok {
		return fmt.Errorf(
			"branch %s: %w", up.Branch, git.ErrNotFound,
		)
	}

	files := r.commits[head].files

	current, exists := files[up.Path]
	if exists && !digester.Verify(current, up.Revision) {
		return fmt.Errorf(
			"%s@%s: %w", up.Path, up.Branch, git.ErrConflict,
		)
	}

	next := maps.Clone(files)
	next[up.Path] = slices.Clone(up.Content)

	r.branches[up.Branch] = r.newCommit(next).id
	r.record(OpUpdateFile, up.Branch+":"+up.Path)

	return nil
}

// SetLabels implements git.Repository.
func (r *Repo) SetLabels(
	_ context.Context,
	number int,
	labels []string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failure(OpSetLabels); err != nil {
		return err
	}

	if !slices.ContainsFunc(
		r.pulls,
		func(pr git.PullRequest) bool {
			return pr.Number == number
		},
	) {
		return fmt.Errorf(
			"pull request %d: %w", number, git.ErrNotFound,
		)
	}

	r.labels[number] = slices.Clone(labels)
	r.record(OpSetLabels, strconv.Itoa(number))

	return nil
}

// filesAt resolves ref as a branch name or commit id.
func (r *Repo) filesAt(ref string) (map[string][]byte, error) {
	if head, ok := r.branches[ref]; ok {
		return r.commits[head].files, nil
	}

	if c, ok := r.commits[ref]; ok {
		return c.files, nil
	}

	return nil, fmt.Errorf("ref %s: %w", ref, git.ErrNotFound)
}

func (r *Repo) newCommit(files map[string][]byte) *commit {
	if files == nil {
		files = make(map[string][]byte)
	}

	r.nextID++

	c := &commit{
		id:    fmt.Sprintf("c%04d", r.nextID),
		files: files,
	}
	r.commits[c.id] = c

	return c
}

func (r *Repo) addPull(head string, base string) git.PullRequest {
	r.nextID++

	pr := git.PullRequest{
		Number:     r.nextID,
		URL:        r.baseURL + "/pull/" + strconv.Itoa(r.nextID),
		HeadBranch: head,
		BaseBranch: base,
	}
	r.pulls = append(r.pulls, pr)

	return pr
}

func (r *Repo) failure(op Op) error {
	if err, ok := r.failures[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *Repo) record(op Op, target string) {
	r.journal = append(r.journal, Mutation{
		Op:     op,
		Target: target,
	})
}
