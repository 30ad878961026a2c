package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mosaicnetworks/rumor/src/common"
	"github.com/mosaicnetworks/rumor/src/net"
	"github.com/mosaicnetworks/rumor/src/telemetry"
)

// ErrCancelled resolves the futures of requests that were still pending when
// the node shut down.
var ErrCancelled = errors.New("rpc cancelled")

var _ common.Future = (*RPCFuture)(nil)

// RPCFuture is the pending result of a request sent with Call. It resolves
// exactly once: with the reply, with an *common.RPCError if the reply is an
// error body, or with common.ErrRPCTimeout when the deadline passes first.
type RPCFuture struct {
	dest  string
	msgID int
	start time.Time

	resp   net.Message
	err    error
	doneCh chan struct{}
}

func newRPCFuture(dest string) *RPCFuture {
	return &RPCFuture{
		dest:   dest,
		start:  time.Now(),
		doneCh: make(chan struct{}),
	}
}

// respond must only be called once, which the pending table guarantees.
func (f *RPCFuture) respond(resp net.Message, err error) {
	f.resp = resp
	f.err = err
	close(f.doneCh)
}

// Error blocks until the future resolves and returns its error. It implements
// common.Future.
func (f *RPCFuture) Error() error {
	<-f.doneCh
	return f.err
}

// Response blocks until the future resolves. The reply is returned alongside
// the error when the peer answered with an error body.
func (f *RPCFuture) Response() (net.Message, error) {
	<-f.doneCh
	return f.resp, f.err
}

// Done is closed when the future resolves.
func (f *RPCFuture) Done() <-chan struct{} {
	return f.doneCh
}

// Dest returns the node the request was sent to.
func (f *RPCFuture) Dest() string {
	return f.dest
}

// MsgID returns the msg_id of the request.
func (f *RPCFuture) MsgID() int {
	return f.msgID
}

type pendingRequest struct {
	future *RPCFuture
	timer  *time.Timer
}

// pendingTable correlates outstanding requests with their replies. An entry is
// removed by whichever of reply, deadline, or cancellation comes first, under
// the table lock, so the future is resolved once.
type pendingTable struct {
	sync.Mutex
	entries map[int]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[int]*pendingRequest),
	}
}

func (p *pendingTable) add(msgID int, future *RPCFuture, timeout time.Duration) {
	p.Lock()
	defer p.Unlock()

	future.msgID = msgID

	req := &pendingRequest{future: future}
	p.entries[msgID] = req
	req.timer = time.AfterFunc(timeout, func() {
		if p.expire(msgID, common.ErrRPCTimeout) {
			telemetry.RPCCalls.WithLabelValues("timeout").Inc()
		}
	})

	telemetry.PendingRequests.Inc()
}

func (p *pendingTable) take(msgID int) (*pendingRequest, bool) {
	p.Lock()
	defer p.Unlock()

	req, ok := p.entries[msgID]
	if !ok {
		return nil, false
	}
	delete(p.entries, msgID)
	req.timer.Stop()

	telemetry.PendingRequests.Dec()

	return req, true
}

// resolve completes the request msg replies to. It returns false if there is
// no such request, either because it never existed or because it has already
// resolved.
func (p *pendingTable) resolve(msg net.Message) bool {
	req, ok := p.take(msg.InReplyTo())
	if !ok {
		return false
	}

	var err error
	outcome := "ok"
	if rpcErr := msg.RPCError(); rpcErr != nil {
		err = rpcErr
		outcome = "error"
	}

	telemetry.RPCCalls.WithLabelValues(outcome).Inc()
	telemetry.RPCDuration.Observe(time.Since(req.future.start).Seconds())

	req.future.respond(msg, err)

	return true
}

func (p *pendingTable) expire(msgID int, err error) bool {
	req, ok := p.take(msgID)
	if !ok {
		return false
	}
	req.future.respond(net.Message{}, err)
	return true
}

func (p *pendingTable) cancelAll(err error) {
	p.Lock()
	ids := make([]int, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.Unlock()

	for _, id := range ids {
		if p.expire(id, err) {
			telemetry.RPCCalls.WithLabelValues("cancelled").Inc()
		}
	}
}

func (p *pendingTable) len() int {
	p.Lock()
	defer p.Unlock()
	return len(p.entries)
}

// Call sends body to dest as a request and returns a future for the reply.
// The request fails with common.ErrRPCTimeout if no reply arrives within
// timeout. A zero timeout uses the configured RPCTimeout.
//
// Call never blocks on the reply, so handlers may use it. They must not wait
// on the future though, since replies are dispatched by the same loop that
// runs handlers; use Go for follow-up work.
func (n *Node) Call(dest string, body interface{}, timeout time.Duration) *RPCFuture {
	if timeout <= 0 {
		timeout = n.conf.RPCTimeout
	}

	future := newRPCFuture(dest)
	msgID := n.nextMsgID()

	// register before sending so that a fast reply always finds its entry
	n.pending.add(msgID, future, timeout)

	if err := n.send(n.ID(), dest, body, msgID, 0); err != nil {
		n.pending.expire(msgID, err)
	}

	return future
}

// CallContext is like Call but takes its deadline from ctx, falling back to
// the configured RPCTimeout when ctx has none. The request is abandoned with
// ctx.Err() if ctx is cancelled first. An expired deadline is reported as
// common.ErrRPCTimeout.
func (n *Node) CallContext(ctx context.Context, dest string, body interface{}) *RPCFuture {
	timeout := n.conf.RPCTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			timeout = time.Nanosecond
		}
	}

	future := n.Call(dest, body, timeout)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				err := ctx.Err()
				if errors.Is(err, context.DeadlineExceeded) {
					err = common.ErrRPCTimeout
				}
				if n.pending.expire(future.msgID, err) {
					telemetry.RPCCalls.WithLabelValues("cancelled").Inc()
				}
			case <-future.Done():
			}
		}()
	}

	return future
}

// PendingCount returns the number of requests awaiting a reply.
func (n *Node) PendingCount() int {
	return n.pending.len()
}
