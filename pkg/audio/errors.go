// ABOUTME: Error taxonomy shared by the streaming components
// ABOUTME: Transport and device failures plus the malformed packet sentinel
package audio

import (
	"errors"
	"fmt"
)

// ErrMalformedPacket classifies a datagram whose payload is not whole samples
var ErrMalformedPacket = errors.New("malformed packet")

// TransportError reports a bind, send or receive failure on a socket
type TransportError struct {
	Op   string // "bind", "send", "receive", "dial"
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeviceError reports an audio output open, write or close failure
type DeviceError struct {
	Op  string // "open", "start", "write", "close"
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
