// Package digester computes content digests used as revision handles. BlobSHA
// matches the object id git (and the GitHub contents API) assigns to a file,
// so handles produced locally line up with those returned by the platform.
package digester
