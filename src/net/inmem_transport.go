package net

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// NewInmemAddr returns a new in-memory addr with a randomly generated UUID as
// the ID.
func NewInmemAddr() string {
	return uuid.NewString()
}

type link struct {
	from, to string
}

// InmemNetwork routes messages between InmemTransports by destination. It can
// block links to simulate partitions, and drop arbitrary messages through a
// filter. Blocked and dropped messages vanish silently.
type InmemNetwork struct {
	sync.RWMutex
	endpoints map[string]*InmemTransport
	blocked   map[link]bool
	isolated  map[string]bool
	drop      func(Message) bool
}

// NewInmemNetwork returns an empty network.
func NewInmemNetwork() *InmemNetwork {
	return &InmemNetwork{
		endpoints: make(map[string]*InmemTransport),
		blocked:   make(map[link]bool),
		isolated:  make(map[string]bool),
	}
}

// NewTransport registers a new endpoint under addr and returns its transport.
// A random address is generated if addr is empty.
func (n *InmemNetwork) NewTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}

	trans := &InmemTransport{
		network:    n,
		localAddr:  addr,
		consumerCh: make(chan Message, consumerBuffer),
		shutdownCh: make(chan struct{}),
	}

	n.Lock()
	n.endpoints[addr] = trans
	n.Unlock()

	return addr, trans
}

// Partition blocks traffic between a and b, in both directions.
func (n *InmemNetwork) Partition(a, b string) {
	n.Lock()
	defer n.Unlock()
	n.blocked[link{a, b}] = true
	n.blocked[link{b, a}] = true
}

// Isolate blocks all traffic to and from addr.
func (n *InmemNetwork) Isolate(addr string) {
	n.Lock()
	defer n.Unlock()
	n.isolated[addr] = true
}

// Heal removes every partition and isolation. The drop filter is kept.
func (n *InmemNetwork) Heal() {
	n.Lock()
	defer n.Unlock()
	n.blocked = make(map[link]bool)
	n.isolated = make(map[string]bool)
}

// SetDropFilter installs a function deciding which messages are lost. A nil
// filter delivers everything.
func (n *InmemNetwork) SetDropFilter(drop func(Message) bool) {
	n.Lock()
	defer n.Unlock()
	n.drop = drop
}

func (n *InmemNetwork) route(msg Message) error {
	n.RLock()
	peer, ok := n.endpoints[msg.Dest]
	cut := n.blocked[link{msg.Src, msg.Dest}] || n.isolated[msg.Src] || n.isolated[msg.Dest]
	drop := n.drop
	n.RUnlock()

	if !ok {
		return fmt.Errorf("failed to connect to peer: %v", msg.Dest)
	}

	if cut || (drop != nil && drop(msg)) {
		return nil
	}

	// Delivery is asynchronous, like a real network: the sender never waits
	// for the receiver to consume.
	go peer.deliver(msg)

	return nil
}

// InmemTransport Implements the Transport interface, to allow rumor nodes to be
// tested in-memory without going through stdio.
type InmemTransport struct {
	network    *InmemNetwork
	localAddr  string
	consumerCh chan Message

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan Message {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// Send implements the Transport interface.
func (i *InmemTransport) Send(msg Message) error {
	select {
	case <-i.shutdownCh:
		return ErrTransportShutdown
	default:
	}
	return i.network.route(msg)
}

func (i *InmemTransport) deliver(msg Message) {
	select {
	case i.consumerCh <- msg:
	case <-i.shutdownCh:
	}
}

// Listen is an empty function as there is no need to defer
// initialisation of the InMem service
func (i *InmemTransport) Listen() {
}

// Close is used to permanently disable the transport. The Consumer channel is
// left open; pending deliveries are abandoned.
func (i *InmemTransport) Close() error {
	i.shutdownOnce.Do(func() {
		close(i.shutdownCh)
	})

	i.network.Lock()
	if i.network.endpoints[i.localAddr] == i {
		delete(i.network.endpoints, i.localAddr)
	}
	i.network.Unlock()

	return nil
}
