// Package github implements git.Repository on top of the GitHub REST API
// (cloud or enterprise). Configure with a Config containing the repository
// owner, name, and access token. Set EnterpriseHost for GitHub Enterprise
// installations. Requests go through the retrying transport of package git.
package github
