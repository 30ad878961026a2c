// Package node implements the runtime of a rumor node.
//
// A node reads messages from a Transport, one at a time, and dispatches them on
// a single goroutine. Workloads plug into it by registering a HandlerFunc per
// body type with Handle; the node takes care of everything else.
//
// Lifecycle
//
// A node starts Uninitialized. The first init message assigns its id and the
// ids of the whole cluster, moves it to Running, and is acknowledged with
// init_ok. Requests that arrive before init are refused with a
// temporarily-unavailable error. A repeated init with the same id is
// acknowledged again; one with a different id is refused with
// precondition-failed. The node moves to Shutdown when its input is exhausted
// or Shutdown is called.
//
// Requests and replies
//
// Every outbound message gets a fresh msg_id from a counter starting at 1.
// Call sends a request and returns an RPCFuture, which resolves with the reply
// whose in_reply_to matches, with an RPCError if the peer answered with an
// error body, or with common.ErrRPCTimeout once the deadline passes. Whichever
// happens first removes the request from the pending table, so a late reply is
// treated like any reply nobody is waiting for: logged and dropped.
//
// Handler errors are turned into error replies. An *common.RPCError keeps its
// code; anything else is reported as a crash. Requests of a type without a
// handler get a not-supported error, or are dropped if they carry no msg_id.
package node
