package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mosaicnetworks/rumor/src/common"
	"github.com/mosaicnetworks/rumor/src/config"
	"github.com/mosaicnetworks/rumor/src/net"
	"github.com/mosaicnetworks/rumor/src/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const convergeTimeout = 5 * time.Second

type testCluster struct {
	t       *testing.T
	ids     []string
	network *net.InmemNetwork
	client  *net.InmemTransport
	nodes   map[string]*node.Node
	servers map[string]*Server
	lastID  int
}

// newTestCluster starts one node per id, runs their anti-entropy loops, and
// initializes them. setup, if not nil, adjusts each node's config.
func newTestCluster(t *testing.T, ids []string, setup func(c *config.Config)) *testCluster {
	network := net.NewInmemNetwork()
	_, client := network.NewTransport("c1")

	c := &testCluster{
		t:       t,
		ids:     ids,
		network: network,
		client:  client,
		nodes:   make(map[string]*node.Node),
		servers: make(map[string]*Server),
	}

	for _, id := range ids {
		c.start(id, setup)
	}

	t.Cleanup(func() { client.Close() })

	for _, id := range ids {
		resp := c.rpc(id, map[string]interface{}{
			"type":     net.TypeInit,
			"node_id":  id,
			"node_ids": ids,
		})
		require.Equal(t, net.TypeInitOk, resp.Type())
	}

	return c
}

func (c *testCluster) start(id string, setup func(c *config.Config)) {
	conf := config.NewTestConfig(c.t, common.TestLogLevel)
	if setup != nil {
		setup(conf)
	}

	_, trans := c.network.NewTransport(id)
	n := node.NewNode(conf, trans)
	s := NewServer(n)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	n.RunAsync()
	go func() {
		s.Run(ctx)
		close(done)
	}()

	c.nodes[id] = n
	c.servers[id] = s

	c.t.Cleanup(func() {
		cancel()
		<-done
		n.Shutdown()
		s.Close()
	})
}

// rpc sends a request from the client and waits for the reply.
func (c *testCluster) rpc(dest string, body map[string]interface{}) net.Message {
	c.lastID++
	msgID := c.lastID
	body["msg_id"] = msgID

	msg, err := net.NewMessage("c1", dest, body)
	require.NoError(c.t, err)
	require.NoError(c.t, c.client.Send(msg))

	for {
		select {
		case resp := <-c.client.Consumer():
			if resp.InReplyTo() == msgID {
				return resp
			}
		case <-time.After(2 * time.Second):
			c.t.Fatalf("timeout waiting for reply to %v", body)
		}
	}
}

func (c *testCluster) broadcast(dest string, value int) {
	resp := c.rpc(dest, map[string]interface{}{
		"type":    TypeBroadcast,
		"message": value,
	})
	require.Equal(c.t, TypeBroadcastOk, resp.Type())
}

func (c *testCluster) read(dest string) []int {
	resp := c.rpc(dest, map[string]interface{}{"type": TypeRead})
	require.Equal(c.t, TypeReadOk, resp.Type())

	var body ReadOkBody
	require.NoError(c.t, resp.DecodeBody(&body))
	return body.Messages
}

func (c *testCluster) topology(topology map[string][]string) {
	for _, id := range c.ids {
		resp := c.rpc(id, map[string]interface{}{
			"type":     TypeTopology,
			"topology": topology,
		})
		require.Equal(c.t, TypeTopologyOk, resp.Type())
	}
}

func (c *testCluster) expectConverged(expected []int) {
	for _, id := range c.ids {
		s := c.servers[id]
		require.Eventually(c.t, func() bool {
			return assert.ObjectsAreEqual(expected, s.Values())
		}, convergeTimeout, 10*time.Millisecond, "%s has %v, expected %v", id, s.Values(), expected)
	}

	for _, id := range c.ids {
		assert.Equal(c.t, expected, c.read(id))
	}
}

func line(ids []string) map[string][]string {
	topology := make(map[string][]string)
	for i, id := range ids {
		var nbrs []string
		if i > 0 {
			nbrs = append(nbrs, ids[i-1])
		}
		if i < len(ids)-1 {
			nbrs = append(nbrs, ids[i+1])
		}
		topology[id] = nbrs
	}
	return topology
}

func TestBroadcastAndRead(t *testing.T) {
	c := newTestCluster(t, []string{"n1"}, nil)

	resp := c.rpc("n1", map[string]interface{}{"type": TypeRead})
	assert.JSONEq(t, fmt.Sprintf(`{"type":"read_ok","msg_id":%d,"in_reply_to":%d,"messages":[]}`,
		resp.MsgID(), resp.InReplyTo()), string(resp.Body))

	c.broadcast("n1", 2)
	c.broadcast("n1", 1)
	c.broadcast("n1", 2)

	assert.Equal(t, []int{1, 2}, c.read("n1"))
}

func TestBroadcastMalformed(t *testing.T) {
	c := newTestCluster(t, []string{"n1"}, nil)

	resp := c.rpc("n1", map[string]interface{}{
		"type":    TypeBroadcast,
		"message": "seven",
	})
	require.Equal(t, net.TypeError, resp.Type())
	assert.Equal(t, common.CodeMalformedRequest, resp.RPCError().Code)

	// a missing value is not 0
	resp = c.rpc("n1", map[string]interface{}{"type": TypeBroadcast})
	require.Equal(t, net.TypeError, resp.Type())
	assert.Equal(t, common.CodeMalformedRequest, resp.RPCError().Code)

	resp = c.rpc("n1", map[string]interface{}{"type": TypeBroadcast, "message": nil})
	require.Equal(t, net.TypeError, resp.Type())

	assert.Equal(t, []int{}, c.read("n1"))

	c.broadcast("n1", 0)
	assert.Equal(t, []int{0}, c.read("n1"))
}

func TestTopology(t *testing.T) {
	ids := []string{"n1", "n2", "n3"}
	c := newTestCluster(t, ids, nil)

	// defaults to everybody else
	assert.Equal(t, []string{"n2", "n3"}, c.servers["n1"].Neighbours())

	// a topology that does not mention n2 leaves it with the defaults
	c.topology(map[string][]string{"n1": {"n3"}, "n3": {"n1"}})
	assert.Equal(t, []string{"n3"}, c.servers["n1"].Neighbours())
	assert.Equal(t, []string{"n1", "n3"}, c.servers["n2"].Neighbours())

	// first one wins for n1 and n3; n2 takes the first that mentions it
	c.topology(line(ids))
	assert.Equal(t, []string{"n3"}, c.servers["n1"].Neighbours())
	assert.Equal(t, []string{"n1", "n3"}, c.servers["n2"].Neighbours())
	assert.Equal(t, []string{"n1"}, c.servers["n3"].Neighbours())

	assert.Equal(t, "true", c.servers["n1"].GetStats()["topology_set"])
}

func TestGossipHandler(t *testing.T) {
	c := newTestCluster(t, []string{"n1"}, nil)

	resp := c.rpc("n1", map[string]interface{}{
		"type":     TypeGossip,
		"messages": []int{5, 6, 5},
	})
	require.Equal(t, TypeGossipOk, resp.Type())

	var body GossipOkBody
	require.NoError(t, resp.DecodeBody(&body))
	assert.Equal(t, 3, body.Messages)

	assert.Equal(t, []int{5, 6}, c.read("n1"))
}

func TestConvergence(t *testing.T) {
	ids := []string{"n1", "n2", "n3", "n4", "n5"}
	c := newTestCluster(t, ids, nil)
	c.topology(line(ids))

	for i, id := range ids {
		c.broadcast(id, i*10)
	}

	c.expectConverged([]int{0, 10, 20, 30, 40})
}

func TestPartitionHeal(t *testing.T) {
	ids := []string{"n1", "n2", "n3"}
	c := newTestCluster(t, ids, nil)

	c.network.Partition("n1", "n2")
	c.network.Partition("n1", "n3")

	c.broadcast("n1", 7)

	// several gossip rounds go by without 7 crossing the partition
	time.Sleep(10 * c.nodes["n1"].Config().GossipInterval)
	assert.Equal(t, []int{7}, c.read("n1"))
	assert.Equal(t, []int{}, c.read("n2"))
	assert.Equal(t, []int{}, c.read("n3"))

	c.network.Heal()

	c.expectConverged([]int{7})

	// n3 cut off from everybody, the harness included
	c.network.Isolate("n3")
	c.broadcast("n1", 8)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]int{7, 8}, c.servers["n2"].Values())
	}, convergeTimeout, 10*time.Millisecond)
	time.Sleep(10 * c.nodes["n1"].Config().GossipInterval)
	assert.Equal(t, []int{7}, c.servers["n3"].Values())

	c.network.Heal()

	c.expectConverged([]int{7, 8})
}

func TestConcurrentDuplicate(t *testing.T) {
	ids := []string{"n1", "n2", "n3"}
	c := newTestCluster(t, ids, nil)

	// both requests are in flight at the same time
	for i, id := range []string{"n1", "n2"} {
		msg, err := net.NewMessage("c1", id, map[string]interface{}{
			"type":    TypeBroadcast,
			"msg_id":  1000 + i,
			"message": 3,
		})
		require.NoError(t, err)
		require.NoError(t, c.client.Send(msg))
	}

	for i := 0; i < 2; i++ {
		select {
		case resp := <-c.client.Consumer():
			assert.Equal(t, TypeBroadcastOk, resp.Type())
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for broadcast_ok")
		}
	}

	c.expectConverged([]int{3})
}

func TestConvergenceWithLoss(t *testing.T) {
	ids := []string{"n1", "n2", "n3", "n4"}
	c := newTestCluster(t, ids, nil)
	c.topology(line(ids))

	// lose every other gossip and every other acknowledgement
	var count int64
	c.network.SetDropFilter(func(msg net.Message) bool {
		if msg.Type() != TypeGossip && msg.Type() != TypeGossipOk {
			return false
		}
		return atomic.AddInt64(&count, 1)%2 == 0
	})

	c.broadcast("n1", 1)
	c.broadcast("n4", 4)

	c.expectConverged([]int{1, 4})
}

func TestRotate(t *testing.T) {
	ids := []string{"a", "b", "c"}

	assert.Equal(t, []string{"a", "b", "c"}, rotate(ids, 0))
	assert.Equal(t, []string{"b", "c", "a"}, rotate(ids, 1))
	assert.Equal(t, []string{"a", "b", "c"}, rotate(ids, 3))
	assert.Equal(t, []string{"c", "a", "b"}, rotate(ids, 5))
	assert.Empty(t, rotate(nil, 2))
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

// More unreachable neighbours than goroutines must not starve the others.
func TestGossipReachesEveryNeighbour(t *testing.T) {
	c := newTestCluster(t, []string{"n1"}, nil)

	peers := make([]string, node.WGLIMIT+6)
	for i := range peers {
		peers[i] = fmt.Sprintf("p%02d", i)
		_, trans := c.network.NewTransport(peers[i])
		t.Cleanup(func() { trans.Close() })
	}
	_, last := c.network.NewTransport("last")
	t.Cleanup(func() { last.Close() })

	for _, p := range peers {
		c.network.Partition("n1", p)
	}

	resp := c.rpc("n1", map[string]interface{}{
		"type":     TypeTopology,
		"topology": map[string][]string{"n1": append(peers, "last")},
	})
	require.Equal(t, TypeTopologyOk, resp.Type())

	c.broadcast("n1", 1)

	timeout := time.After(convergeTimeout)
	for {
		select {
		case msg := <-last.Consumer():
			if msg.Type() == TypeGossip {
				return
			}
		case <-timeout:
			t.Fatalf("last neighbour never received a gossip")
		}
	}
}

func TestFullSync(t *testing.T) {
	ids := []string{"n1", "n2", "n3"}
	c := newTestCluster(t, ids, func(conf *config.Config) {
		conf.FullSync = true
	})
	c.topology(line(ids))

	c.broadcast("n1", 100)
	c.broadcast("n3", 300)

	c.expectConverged([]int{100, 300})
	assert.Equal(t, "true", c.servers["n2"].GetStats()["full_sync"])
}

func TestGossipSkipsAcknowledged(t *testing.T) {
	ids := []string{"n1", "n2"}
	c := newTestCluster(t, ids, func(conf *config.Config) {
		conf.FullSyncEvery = 0
	})

	var gossips int64
	c.network.SetDropFilter(func(msg net.Message) bool {
		if msg.Type() == TypeGossip {
			atomic.AddInt64(&gossips, 1)
		}
		return false
	})

	c.broadcast("n1", 1)
	c.expectConverged([]int{1})

	// once both sides know 1, nobody has anything left to send
	settled := atomic.LoadInt64(&gossips)
	time.Sleep(10 * c.nodes["n1"].Config().GossipInterval)
	assert.Equal(t, settled, atomic.LoadInt64(&gossips))
}

func TestPersistentStore(t *testing.T) {
	dir := t.TempDir()
	setup := func(conf *config.Config) {
		conf.Store = true
		conf.DatabaseDir = dir
	}

	c := newTestCluster(t, []string{"n1"}, setup)
	c.broadcast("n1", 8)
	c.broadcast("n1", 9)

	_, ok := c.servers["n1"].Store().(*BadgerStore)
	require.True(t, ok, "expected a BadgerStore")

	c.nodes["n1"].Shutdown()
	require.NoError(t, c.servers["n1"].Close())

	// a new process for the same node id finds its values again
	restarted := newTestCluster(t, []string{"n1"}, setup)
	assert.Equal(t, []int{8, 9}, restarted.read("n1"))
}

func TestGossipBodyEncoding(t *testing.T) {
	msg, err := net.NewMessage("n1", "n2", GossipBody{
		MessageBody: net.MessageBody{Type: TypeGossip},
		Messages:    []int{1, 2},
	})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Body, &raw))
	assert.Equal(t, "gossip", raw["type"])
	assert.Len(t, raw["messages"], 2)
}
