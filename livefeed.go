package peppi

import "io"

// This file adapts the teacher's connection.go/dolphin_connection.go/
// communication.go trio, which modeled a live ENet connection to a
// Dolphin instance. That transport (github.com/haormj/enet-go) has no
// home in this package - spec.md places a live-replay consumer outside
// the core's scope and only asks for "a seekable/polling byte source,
// not a console transport" (see DESIGN.md). The state-machine shape -
// ConnectionStatus, a Connect/Disconnect pair, and a channel of typed
// events - is kept and retargeted at any io.Reader a caller hands it.

// ConnectionEventType enumerates the events FeedReader emits.
type ConnectionEventType string

// ConnectionEvent types.
const (
	ConnectionEventConnect      ConnectionEventType = "connect"
	ConnectionEventStatusChange ConnectionEventType = "statusChange"
	ConnectionEventData         ConnectionEventType = "data"
	ConnectionEventError        ConnectionEventType = "error"
)

// ConnectionEvent is one message emitted on a FeedReader's event
// channel; Payload's concrete type depends on Type (ConnectionStatus
// for StatusChange, []byte for Data, error for Error, nil for Connect).
type ConnectionEvent struct {
	Type    ConnectionEventType
	Payload interface{}
}

// ConnectionStatus enumerates the possible states of a FeedReader.
type ConnectionStatus uint8

// ConnectionStatuses.
const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
)

// FeedReader is the boundary a live-replay consumer polls: it forwards
// bytes from an arbitrary io.Reader (a socket, a growing file, a pipe)
// as ConnectionEvent.Data messages, leaving the actual decoding to a
// caller holding the other end - typically accumulating the bytes into
// a buffer and periodically calling Read with ReadOpts{SkipFrames:
// false} once enough of the stream has arrived.
type FeedReader struct {
	status ConnectionStatus
	send   chan<- *ConnectionEvent
}

// NewFeedReader returns a disconnected FeedReader.
func NewFeedReader() *FeedReader {
	return &FeedReader{status: Disconnected}
}

// GetStatus returns the current connection state.
func (f *FeedReader) GetStatus() ConnectionStatus {
	return f.status
}

// Connect starts forwarding src's bytes as ConnectionEvents on the
// returned channel until src returns an error (io.EOF included).
func (f *FeedReader) Connect(src io.Reader) (<-chan *ConnectionEvent, error) {
	send, receive := MakeUnboundedChannel[ConnectionEvent]()
	f.send = send
	f.setStatus(Connecting)
	f.send <- &ConnectionEvent{Type: ConnectionEventConnect}
	f.setStatus(Connected)
	go f.poll(src)
	return receive, nil
}

// Disconnect marks the feed disconnected. It does not close src; the
// caller owns that lifetime.
func (f *FeedReader) Disconnect() {
	f.setStatus(Disconnected)
}

func (f *FeedReader) poll(src io.Reader) {
	buf := make([]byte, 4096)
	for {
		if f.status == Disconnected {
			return
		}
		n, err := src.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			f.send <- &ConnectionEvent{Type: ConnectionEventData, Payload: chunk}
		}
		if err != nil {
			if err != io.EOF {
				f.send <- &ConnectionEvent{Type: ConnectionEventError, Payload: err}
			}
			f.Disconnect()
			return
		}
	}
}

func (f *FeedReader) setStatus(status ConnectionStatus) {
	if f.status != status {
		f.status = status
		if f.send != nil {
			f.send <- &ConnectionEvent{Type: ConnectionEventStatusChange, Payload: status}
		}
	}
}
