// Package frame defines the wire-level unit the core consumes and produces:
// a whole, already de-framed message tagged with its source and protocol.
package frame

import "time"

// Protocol identifies which Transport produced or will consume a Frame.
type Protocol string

const (
	ProtocolTCP       Protocol = "tcp"
	ProtocolUDP       Protocol = "udp"
	ProtocolTLS       Protocol = "tls"
	ProtocolWS        Protocol = "ws"
	ProtocolMulticast Protocol = "multicast"
)

// Frame is one whole message surfaced by a connection task's read loop, or
// handed to its write loop. Framing (newline/length-prefix/WS/datagram) is
// the Transport's concern; the core only ever sees whole frames.
type Frame struct {
	SourceID   string
	Bytes      []byte
	ReceivedAt time.Time
	Protocol   Protocol
	Priority   int
}
