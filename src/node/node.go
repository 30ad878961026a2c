package node

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/rumor/src/common"
	"github.com/mosaicnetworks/rumor/src/config"
	"github.com/mosaicnetworks/rumor/src/net"
	"github.com/mosaicnetworks/rumor/src/telemetry"
	"github.com/sirupsen/logrus"
)

// HandlerFunc serves one request. It runs on the dispatch loop, never
// concurrently with another handler. A returned *common.RPCError is sent back
// to the requester as is; any other error is reported as a crash.
type HandlerFunc func(msg net.Message) error

// InitFunc is called once, on the dispatch loop, when the node learns its
// identity, before init_ok is sent.
type InitFunc func(id string, nodeIDs []string)

// Node is the runtime shared by every workload. It owns the transport, answers
// init, dispatches requests to registered handlers, and correlates replies
// with outstanding requests.
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	trans net.Transport
	netCh <-chan net.Message

	idLock  sync.RWMutex
	id      string
	nodeIDs []string

	handlerLock   sync.RWMutex
	handlers      map[string]HandlerFunc
	initListeners []InitFunc

	lastMsgID int64
	pending   *pendingTable

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	start            time.Time
	msgsIn           uint64
	msgsOut          uint64
	unmatchedReplies uint64
	handlerErrors    uint64
}

// NewNode is a factory method that returns a Node instance. The node is
// Uninitialized until the harness sends init.
func NewNode(conf *config.Config, trans net.Transport) *Node {
	node := Node{
		conf:       conf,
		logger:     conf.Logger(),
		trans:      trans,
		netCh:      trans.Consumer(),
		handlers:   make(map[string]HandlerFunc),
		pending:    newPendingTable(),
		shutdownCh: make(chan struct{}),
		start:      time.Now(),
	}

	return &node
}

// Handle registers the handler for requests of type typ, replacing any
// previous one. Handlers should be registered before Run.
func (n *Node) Handle(typ string, h HandlerFunc) {
	n.handlerLock.Lock()
	defer n.handlerLock.Unlock()
	n.handlers[typ] = h
}

// OnInit registers a function called when init is processed.
func (n *Node) OnInit(f InitFunc) {
	n.handlerLock.Lock()
	defer n.handlerLock.Unlock()
	n.initListeners = append(n.initListeners, f)
}

// ID returns the node id assigned by init, or "" before init.
func (n *Node) ID() string {
	n.idLock.RLock()
	defer n.idLock.RUnlock()
	return n.id
}

// NodeIDs returns a copy of the cluster membership assigned by init.
func (n *Node) NodeIDs() []string {
	n.idLock.RLock()
	defer n.idLock.RUnlock()
	return append([]string(nil), n.nodeIDs...)
}

// State returns the current state of the node.
func (n *Node) State() State {
	return n.getState()
}

// Logger returns the logger of the node.
func (n *Node) Logger() *logrus.Entry {
	return n.logger
}

// Config returns the configuration the node was created with.
func (n *Node) Config() *config.Config {
	return n.conf
}

// ShutdownCh is closed when the node shuts down.
func (n *Node) ShutdownCh() <-chan struct{} {
	return n.shutdownCh
}

// Go runs f in a goroutine tracked by the node; Shutdown waits for it. It
// returns false, and does not run f, if too many are already running or the
// node is shut down.
func (n *Node) Go(f func()) bool {
	if n.getState() == Shutdown {
		return false
	}
	return n.goFunc(f)
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	go n.Run()
}

// Run starts the transport and processes inbound messages until the input is
// exhausted or the node is shut down.
func (n *Node) Run() {
	go n.trans.Listen()

	for {
		select {
		case msg, ok := <-n.netCh:
			if !ok {
				n.logger.Debug("End of input")
				n.Shutdown()
				return
			}
			n.processMessage(msg)
		case <-n.shutdownCh:
			return
		}
	}
}

// Shutdown stops the dispatch loop, resolves pending requests with
// ErrCancelled, waits for goroutines started with Go, and closes the
// transport. It is safe to call more than once, but not from a function
// started with Go.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")

		n.setState(Shutdown)

		close(n.shutdownCh)

		n.pending.cancelAll(ErrCancelled)

		n.waitRoutines()

		n.trans.Close()
	})
}

func (n *Node) processMessage(msg net.Message) {
	atomic.AddUint64(&n.msgsIn, 1)
	telemetry.MessagesReceived.WithLabelValues(msg.Type()).Inc()

	if msg.IsReply() {
		n.processReply(msg)
		return
	}

	if msg.Type() == net.TypeInit {
		n.processInit(msg)
		return
	}

	if n.getState() != Running {
		n.logger.WithError(common.NewNodeErr(common.NotInitialized, msg.Type())).
			Debug("Rejecting request")
		n.replyError(msg, common.NewRPCError(common.CodeTemporarilyUnavailable,
			"node not initialized"))
		return
	}

	n.handlerLock.RLock()
	handler, ok := n.handlers[msg.Type()]
	n.handlerLock.RUnlock()

	if !ok {
		n.logger.WithError(common.NewNodeErr(common.UnknownMessageType, msg.Type())).
			Debug("No handler")
		n.replyError(msg, common.NewRPCError(common.CodeNotSupported,
			"unsupported message type %q", msg.Type()))
		return
	}

	if err := handler(msg); err != nil {
		atomic.AddUint64(&n.handlerErrors, 1)
		n.logger.WithFields(logrus.Fields{
			"type":  msg.Type(),
			"src":   msg.Src,
			"error": err,
		}).Debug("Handler failed")
		n.replyError(msg, err)
	}
}

func (n *Node) processReply(msg net.Message) {
	if !n.pending.resolve(msg) {
		atomic.AddUint64(&n.unmatchedReplies, 1)
		telemetry.UnmatchedReplies.Inc()
		n.logger.WithError(common.NewNodeErr(common.UnmatchedReply, msg.String())).
			Debug("Ignoring reply")
	}
}

func (n *Node) processInit(msg net.Message) {
	var body net.InitBody
	if err := msg.DecodeBody(&body); err != nil {
		n.replyError(msg, err)
		return
	}

	if body.NodeID == "" {
		n.replyError(msg, common.NewRPCError(common.CodeMalformedRequest, "init without node_id"))
		return
	}

	if n.getState() == Running {
		if body.NodeID != n.ID() {
			n.replyError(msg, common.NewRPCError(common.CodePreconditionFailed,
				"already initialized as %s", n.ID()))
			return
		}
		n.logger.Debug("Repeated init")
		n.Reply(msg, net.MessageBody{Type: net.TypeInitOk})
		return
	}

	n.idLock.Lock()
	n.id = body.NodeID
	n.nodeIDs = append([]string(nil), body.NodeIDs...)
	n.idLock.Unlock()

	n.setState(Running)

	n.logger.WithFields(logrus.Fields{
		"node_id":  body.NodeID,
		"node_ids": body.NodeIDs,
	}).Info("Initialized")

	n.handlerLock.RLock()
	listeners := append([]InitFunc(nil), n.initListeners...)
	n.handlerLock.RUnlock()

	for _, f := range listeners {
		f(body.NodeID, n.NodeIDs())
	}

	n.Reply(msg, net.MessageBody{Type: net.TypeInitOk})
}

// Reply sends body back to the source of req, as a reply to it. body must
// marshal to a JSON object with a type field; its msg_id and in_reply_to are
// set by the node. Requests without a msg_id expect no reply, so nothing is
// sent for them.
func (n *Node) Reply(req net.Message, body interface{}) error {
	if req.MsgID() == 0 {
		n.logger.WithField("type", req.Type()).Debug("Not replying to request without msg_id")
		return nil
	}

	// before init the node only knows itself by the address it was sent to
	src := n.ID()
	if src == "" {
		src = req.Dest
	}
	return n.send(src, req.Src, body, n.nextMsgID(), req.MsgID())
}

// Send sends body to dest without expecting a reply.
func (n *Node) Send(dest string, body interface{}) error {
	return n.send(n.ID(), dest, body, n.nextMsgID(), 0)
}

func (n *Node) replyError(req net.Message, err error) {
	if req.MsgID() == 0 {
		n.logger.WithFields(logrus.Fields{
			"type":  req.Type(),
			"error": err,
		}).Debug("Dropping request without msg_id")
		return
	}

	body := net.ErrorBody{
		MessageBody: net.MessageBody{Type: net.TypeError},
		Code:        common.ErrorCode(err),
		Text:        err.Error(),
	}

	var rpcErr *common.RPCError
	if errors.As(err, &rpcErr) {
		body.Text = rpcErr.Text
	}

	if err := n.Reply(req, body); err != nil {
		n.logger.WithError(err).Error("Sending error reply")
	}
}

func (n *Node) send(src, dest string, body interface{}, msgID, inReplyTo int) error {
	msg, err := net.NewMessageWithIDs(src, dest, body, msgID, inReplyTo)
	if err != nil {
		n.logger.WithError(err).Error("Building message")
		return err
	}

	if err := n.trans.Send(msg); err != nil {
		n.logger.WithFields(logrus.Fields{
			"dest":  dest,
			"error": err,
		}).Debug("Send failed")
		return err
	}

	atomic.AddUint64(&n.msgsOut, 1)
	telemetry.MessagesSent.WithLabelValues(msg.Type()).Inc()

	return nil
}

// nextMsgID returns a fresh, strictly increasing msg_id, starting at 1.
func (n *Node) nextMsgID() int {
	return int(atomic.AddInt64(&n.lastMsgID, 1))
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	u := func(v *uint64) string {
		return strconv.FormatUint(atomic.LoadUint64(v), 10)
	}

	return map[string]string{
		"id":                n.ID(),
		"node_ids":          strings.Join(n.NodeIDs(), ","),
		"state":             n.getState().String(),
		"uptime":            time.Since(n.start).Round(time.Second).String(),
		"messages_in":       u(&n.msgsIn),
		"messages_out":      u(&n.msgsOut),
		"unmatched_replies": u(&n.unmatchedReplies),
		"handler_errors":    u(&n.handlerErrors),
		"pending_requests":  strconv.Itoa(n.PendingCount()),
		"last_msg_id":       strconv.FormatInt(atomic.LoadInt64(&n.lastMsgID), 10),
	}
}
