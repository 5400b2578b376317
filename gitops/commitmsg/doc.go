// Package commitmsg checks commit messages against the
// "<type>: <TICKET-ID> <summary>" convention used on the manifest repository
// and splits valid messages into their parts.
package commitmsg
