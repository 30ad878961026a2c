// Package config defines the configuration for a rumor node.
//
// Regardless of how the node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. The command line
// reads an optional rumor.toml (or .yaml, .json) from Config.DataDir on top of
// its flags.
//
// When the persistent store is enabled, each node keeps its database in a
// sub-directory of DatabaseDir named after its node id, so that every node of
// a cluster running on the same host can share one DatabaseDir.
package config
