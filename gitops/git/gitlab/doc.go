// Package gitlab implements git.Repository on top of the GitLab REST API.
// Pull requests map to merge requests and labels are applied by updating the
// merge request. The client library retries transient failures internally,
// bounded by Config.Retry.
package gitlab
