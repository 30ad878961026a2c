package net

import "errors"

// ErrTransportShutdown is returned when operations on a transport are invoked
// after it's been terminated.
var ErrTransportShutdown = errors.New("transport shutdown")

// Transport provides an interface for network transports to allow a node to
// communicate with the harness and with other nodes.
type Transport interface {

	// Listen starts reading inbound messages into the Consumer channel. It
	// blocks until the input is exhausted or the transport is closed.
	Listen()

	// Consumer returns the channel of inbound messages. Transports backed by
	// a finite stream close it at end-of-stream.
	Consumer() <-chan Message

	// Send writes exactly one message. It is safe for concurrent use.
	Send(msg Message) error

	// LocalAddr is used to return our local address
	LocalAddr() string

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
