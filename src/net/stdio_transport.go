package net

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// lines longer than bufSize are still read and written whole
	bufSize = 1 << 16

	consumerBuffer = 64
)

// StdioTransport reads one message per line from a reader and writes one
// message per line to a writer. It is the transport used when the node runs
// under the harness, with os.Stdin and os.Stdout.
type StdioTransport struct {
	logger *logrus.Entry

	r *bufio.Reader

	w       *bufio.Writer
	outLock sync.Mutex

	consumeCh chan Message

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// NewStdioTransport creates a transport over r and w.
func NewStdioTransport(r io.Reader, w io.Writer, logger *logrus.Entry) *StdioTransport {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &StdioTransport{
		logger:     logger,
		r:          bufio.NewReaderSize(r, bufSize),
		w:          bufio.NewWriterSize(w, bufSize),
		consumeCh:  make(chan Message, consumerBuffer),
		shutdownCh: make(chan struct{}),
	}
}

// Consumer implements the Transport interface.
func (s *StdioTransport) Consumer() <-chan Message {
	return s.consumeCh
}

// LocalAddr implements the Transport interface.
func (s *StdioTransport) LocalAddr() string {
	return "stdio"
}

// IsShutdown is used to check if the transport is shutdown.
func (s *StdioTransport) IsShutdown() bool {
	select {
	case <-s.shutdownCh:
		return true
	default:
		return false
	}
}

// Listen implements the Transport interface. Lines that do not decode are
// logged and dropped. The Consumer channel is closed when the reader is
// exhausted.
func (s *StdioTransport) Listen() {
	defer close(s.consumeCh)

	for {
		line, err := s.r.ReadBytes('\n')

		if line = bytes.TrimSpace(line); len(line) > 0 {
			s.handleLine(line)
		}

		if err != nil {
			if err != io.EOF {
				s.logger.WithError(err).Error("Failed to read input")
			} else {
				s.logger.Debug("End of input")
			}
			return
		}

		if s.IsShutdown() {
			return
		}
	}
}

func (s *StdioTransport) handleLine(line []byte) {
	msg, err := DecodeMessage(line)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"error": err,
			"line":  string(line),
		}).Warn("Dropping malformed message")
		return
	}

	select {
	case s.consumeCh <- msg:
	case <-s.shutdownCh:
	}
}

// Send implements the Transport interface. Writes are serialized and every
// message is flushed on its own.
func (s *StdioTransport) Send(msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	s.outLock.Lock()
	defer s.outLock.Unlock()

	if s.IsShutdown() {
		return ErrTransportShutdown
	}

	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}

	return s.w.Flush()
}

// Close is used to stop the transport.
func (s *StdioTransport) Close() error {
	s.shutdownLock.Lock()
	defer s.shutdownLock.Unlock()

	if !s.shutdown {
		close(s.shutdownCh)
		s.shutdown = true
	}
	return nil
}
