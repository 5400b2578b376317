// Package config loads tagpromoter settings and builds
// the logger and repository they describe.
//
// Settings merge, from lowest to highest precedence,
// built-in defaults, an optional YAML file and
// TAGPROMOTER_* environment variables, where the key
// "server.queue_size" is read from
// TAGPROMOTER_SERVER_QUEUE_SIZE.
package config
