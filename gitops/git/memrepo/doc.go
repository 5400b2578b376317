// Package memrepo implements git.Repository in memory. Every branch points at
// an immutable snapshot of files; writes create a new snapshot. All mutating
// calls are recorded in a journal so tests can assert that a run was
// side-effect free. Seed a repository with SetFile or LoadDir.
package memrepo
