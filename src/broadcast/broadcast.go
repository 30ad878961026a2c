package broadcast

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mosaicnetworks/rumor/src/common"
	"github.com/mosaicnetworks/rumor/src/config"
	"github.com/mosaicnetworks/rumor/src/net"
	"github.com/mosaicnetworks/rumor/src/node"
	"github.com/mosaicnetworks/rumor/src/telemetry"
	"github.com/sirupsen/logrus"
)

// Body types handled by the Server.
const (
	TypeBroadcast   = "broadcast"
	TypeBroadcastOk = "broadcast_ok"
	TypeRead        = "read"
	TypeReadOk      = "read_ok"
	TypeTopology    = "topology"
	TypeTopologyOk  = "topology_ok"
	TypeGossip      = "gossip"
	TypeGossipOk    = "gossip_ok"
)

// BroadcastBody is a request to add one value to the set. Message is nil when
// the body carries no value.
type BroadcastBody struct {
	net.MessageBody
	Message *int `json:"message"`
}

// ReadOkBody carries every value the node knows, sorted.
type ReadOkBody struct {
	net.MessageBody
	Messages []int `json:"messages"`
}

// TopologyBody maps node ids to the ids of their neighbours.
type TopologyBody struct {
	net.MessageBody
	Topology map[string][]string `json:"topology"`
}

// GossipBody carries values from one node to a neighbour.
type GossipBody struct {
	net.MessageBody
	Messages []int `json:"messages"`
}

// GossipOkBody acknowledges a GossipBody with the number of values received.
type GossipOkBody struct {
	net.MessageBody
	Messages int `json:"messages"`
}

// Server replicates a grow-only set of integers across a cluster. Values are
// accepted locally and spread to neighbours by a periodic anti-entropy loop,
// which keeps retrying until every neighbour has acknowledged every value, so
// the cluster converges once partitions heal.
type Server struct {
	node   *node.Node
	conf   *config.Config
	logger *logrus.Entry

	storeLock sync.RWMutex
	store     Store
	closeOnce sync.Once

	// guards everything below
	sync.Mutex
	neighbours  []string
	topologySet bool
	known       map[string]map[int]struct{}
	inFlight    map[string]bool
	ticks       int
}

// NewServer registers the broadcast handlers on n. The store is opened when n
// is initialized, since a persistent store is named after the node id.
func NewServer(n *node.Node) *Server {
	s := &Server{
		node:     n,
		conf:     n.Config(),
		logger:   n.Logger().WithField("component", "broadcast"),
		known:    make(map[string]map[int]struct{}),
		inFlight: make(map[string]bool),
	}

	n.OnInit(s.onInit)
	n.Handle(TypeBroadcast, s.handleBroadcast)
	n.Handle(TypeRead, s.handleRead)
	n.Handle(TypeTopology, s.handleTopology)
	n.Handle(TypeGossip, s.handleGossip)

	return s
}

func (s *Server) onInit(id string, nodeIDs []string) {
	store := s.openStore(id)

	s.storeLock.Lock()
	s.store = store
	s.storeLock.Unlock()

	telemetry.StoreValues.Set(float64(store.Len()))

	s.Lock()
	defer s.Unlock()
	if !s.topologySet {
		s.neighbours = without(nodeIDs, id)
	}
}

func (s *Server) openStore(id string) Store {
	if !s.conf.Store {
		return NewInmemStore()
	}

	path := s.conf.BadgerDir(id)
	store, err := NewBadgerStore(path, s.logger)
	if err != nil {
		s.logger.WithError(err).WithField("path", path).
			Error("Failed to open BadgerStore, falling back to InmemStore")
		return NewInmemStore()
	}
	return store
}

func (s *Server) getStore() Store {
	s.storeLock.RLock()
	defer s.storeLock.RUnlock()
	return s.store
}

// Store returns the store, or nil before the node is initialized.
func (s *Server) Store() Store {
	return s.getStore()
}

// Values returns a sorted snapshot of the set.
func (s *Server) Values() []int {
	store := s.getStore()
	if store == nil {
		return []int{}
	}
	return store.Values()
}

// Neighbours returns the nodes this node gossips with.
func (s *Server) Neighbours() []string {
	s.Lock()
	defer s.Unlock()
	return append([]string(nil), s.neighbours...)
}

func (s *Server) add(from string, values ...int) []int {
	store := s.getStore()
	added, err := store.Add(from, values...)
	if err != nil {
		// the values are still held in memory and gossiped
		s.logger.WithError(err).Error("Persisting values")
	}
	if len(added) > 0 {
		telemetry.StoreValues.Set(float64(store.Len()))
		s.logger.WithFields(logrus.Fields{
			"from":  from,
			"added": added,
		}).Debug("New values")
	}
	return added
}

func (s *Server) handleBroadcast(msg net.Message) error {
	var body BroadcastBody
	if err := msg.DecodeBody(&body); err != nil {
		return err
	}

	if body.Message == nil {
		return common.NewRPCError(common.CodeMalformedRequest, "broadcast without message")
	}

	s.add(msg.Src, *body.Message)

	return s.node.Reply(msg, net.MessageBody{Type: TypeBroadcastOk})
}

func (s *Server) handleRead(msg net.Message) error {
	return s.node.Reply(msg, ReadOkBody{
		MessageBody: net.MessageBody{Type: TypeReadOk},
		Messages:    s.Values(),
	})
}

func (s *Server) handleTopology(msg net.Message) error {
	var body TopologyBody
	if err := msg.DecodeBody(&body); err != nil {
		return err
	}

	s.setTopology(body.Topology)

	return s.node.Reply(msg, net.MessageBody{Type: TypeTopologyOk})
}

// setTopology applies the first topology that mentions this node. Later ones
// are ignored.
func (s *Server) setTopology(topology map[string][]string) {
	self := s.node.ID()

	s.Lock()
	defer s.Unlock()

	if s.topologySet {
		s.logger.Debug("Topology already set, ignoring")
		return
	}

	neighbours, ok := topology[self]
	if !ok {
		s.logger.WithField("node", self).Warn("Topology does not mention this node, keeping defaults")
		return
	}

	s.neighbours = without(neighbours, self)
	s.topologySet = true

	s.logger.WithField("neighbours", s.neighbours).Info("Topology set")
}

func (s *Server) handleGossip(msg net.Message) error {
	var body GossipBody
	if err := msg.DecodeBody(&body); err != nil {
		return err
	}

	s.add(msg.Src, body.Messages...)

	// the sender obviously has these
	s.markKnown(msg.Src, body.Messages)

	return s.node.Reply(msg, GossipOkBody{
		MessageBody: net.MessageBody{Type: TypeGossipOk},
		Messages:    len(body.Messages),
	})
}

func (s *Server) markKnown(peer string, values []int) {
	s.Lock()
	defer s.Unlock()

	k, ok := s.known[peer]
	if !ok {
		k = make(map[int]struct{})
		s.known[peer] = k
	}
	for _, v := range values {
		k[v] = struct{}{}
	}
}

// Run is the anti-entropy loop. Every GossipInterval it sends each neighbour
// the values it has not acknowledged, or the whole set in full-sync rounds.
// It returns when ctx is cancelled or the node shuts down.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.conf.GossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.node.ShutdownCh():
			return nil
		case <-ticker.C:
			s.gossipRound(ctx)
		}
	}
}

func (s *Server) gossipRound(ctx context.Context) {
	store := s.getStore()
	if store == nil {
		return
	}

	values := store.Values()
	if len(values) == 0 {
		return
	}

	s.Lock()
	defer s.Unlock()

	s.ticks++
	full := s.conf.FullSync ||
		(s.conf.FullSyncEvery > 0 && s.ticks%s.conf.FullSyncEvery == 0)

	mode := "delta"
	if full {
		mode = "full"
	}

	// the walk starts at a different neighbour every tick
	for _, peer := range rotate(s.neighbours, s.ticks) {
		if s.inFlight[peer] {
			continue
		}

		payload := values
		if !full {
			payload = s.unknownTo(peer, values)
			if len(payload) == 0 {
				continue
			}
		}

		peer := peer
		s.inFlight[peer] = true
		if !s.node.Go(func() { s.push(ctx, peer, payload) }) {
			s.inFlight[peer] = false
			continue
		}

		telemetry.GossipRounds.WithLabelValues(mode).Inc()
	}
}

// unknownTo must be called with the lock held.
func (s *Server) unknownTo(peer string, values []int) []int {
	k := s.known[peer]

	var res []int
	for _, v := range values {
		if _, ok := k[v]; !ok {
			res = append(res, v)
		}
	}
	return res
}

func (s *Server) push(ctx context.Context, peer string, values []int) {
	defer func() {
		s.Lock()
		s.inFlight[peer] = false
		s.Unlock()
	}()

	f := s.node.CallContext(ctx, peer, GossipBody{
		MessageBody: net.MessageBody{Type: TypeGossip},
		Messages:    values,
	})

	if err := f.Error(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"peer":   peer,
			"values": len(values),
			"error":  err,
		}).Debug("Gossip failed")
		return
	}

	s.markKnown(peer, values)
}

// Close closes the store. Only the first call has an effect.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if store := s.getStore(); store != nil {
			err = store.Close()
		}
	})
	return err
}

// GetStats returns stats
func (s *Server) GetStats() map[string]string {
	store := s.getStore()
	values := 0
	if store != nil {
		values = store.Len()
	}

	s.Lock()
	defer s.Unlock()

	peers := make([]string, 0, len(s.known))
	for p, k := range s.known {
		peers = append(peers, p+":"+strconv.Itoa(len(k)))
	}
	sort.Strings(peers)

	return map[string]string{
		"values":       strconv.Itoa(values),
		"neighbours":   strings.Join(s.neighbours, ","),
		"topology_set": strconv.FormatBool(s.topologySet),
		"known":        strings.Join(peers, ","),
		"gossip_ticks": strconv.Itoa(s.ticks),
		"full_sync":    strconv.FormatBool(s.conf.FullSync),
	}
}

// rotate returns ids starting at offset modulo len(ids).
func rotate(ids []string, offset int) []string {
	if len(ids) == 0 {
		return ids
	}
	offset %= len(ids)
	res := make([]string, 0, len(ids))
	res = append(res, ids[offset:]...)
	return append(res, ids[:offset]...)
}

func without(ids []string, self string) []string {
	res := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == self || seen[id] {
			continue
		}
		seen[id] = true
		res = append(res, id)
	}
	return res
}
