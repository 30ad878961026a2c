// Package net implements the wire format and the transports used by rumor
// nodes to exchange messages.
//
// Every message is a JSON object with three fields: src, dest and body. The
// body is itself a JSON object tagged by its type field, and optionally
// carries a msg_id (requests expecting a reply) and an in_reply_to (replies).
// The codec only understands this header; each handler decodes the rest of the
// body into its own typed view, so body types the codec has never heard of go
// through untouched.
//
// There are two implementations of the Transport interface:
//
// - Stdio: one message per line on a reader/writer pair, normally the
// process's standard input and output. This is how a node talks to the test
// harness and, through the harness, to its peers.
//
// - Inmem: an in-memory network used by tests and in-process clusters. It
// routes messages between endpoints by destination and can simulate
// partitions and message loss.
package net
