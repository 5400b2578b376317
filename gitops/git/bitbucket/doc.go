// Package bitbucket implements git.Repository for Bitbucket Server
// (REST API 1.0). Bitbucket Server has no pull request labels, so SetLabels
// only records the labels in the log.
package bitbucket
