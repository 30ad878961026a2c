// Package broadcast replicates a grow-only set of integers across a cluster of
// rumor nodes.
//
// Clients add values with broadcast and observe the set with read. Both are
// answered from local state only. Nodes then spread what they know through
// gossip messages sent to their neighbours, which are every other node by
// default, or the neighbours given by the first topology message that
// mentions this node.
//
// Anti-entropy
//
// The Server keeps, for every peer, the set of values that peer is known to
// have: values it acknowledged with gossip_ok, and values it sent us. On every
// tick of Run, each neighbour without a gossip already in flight is sent the
// values it is not known to have. Nothing is retried explicitly; a lost
// message or a timed out request leaves the values unacknowledged, and the
// next tick sends them again. This is what makes the set converge after a
// partition heals.
//
// With FullSync, every tick sends the whole set instead. In the default delta
// mode, a full round is still forced every FullSyncEvery ticks, so that a
// neighbour that restarted empty is eventually refilled.
//
// Stores
//
// InmemStore keeps the set in a map. BadgerStore writes every new value
// through to a Badger database and reloads it on start.
package broadcast
