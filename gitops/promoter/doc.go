// Package promoter propagates an image tag from one environment's manifest
// to the next by opening a pull request against the manifest repository.
//
// A run is driven by a Request derived from a component and a source
// environment. The Promoter resolves the repository, looks for an open pull
// request on the promotion branch, reads the source tag, patches the target
// manifest line by line and, only when the tag actually changes, reconciles
// the branch, commits and opens a labelled pull request. Every run ends in a
// single Outcome; "nothing to do" is an outcome, not an error.
//
// The branch name "{target}-{component}" is the only key used to correlate
// branches and pull requests across runs.
package promoter
