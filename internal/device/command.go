// ABOUTME: Control command parsing for the streaming device
// ABOUTME: Decodes "start XXXXXXXX PPPP" and "stop" the way the device firmware reads them
package device

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// Field offsets into a start command
	ipOffset   = 6
	portOffset = 15

	// MinStartLength is the shortest well-formed start command
	MinStartLength = 19
)

// Op is a control operation
type Op int

const (
	OpStart Op = iota
	OpStop
)

func (o Op) String() string {
	if o == OpStop {
		return "stop"
	}
	return "start"
}

// ErrBadCommand is returned for commands the device rejects
var ErrBadCommand = errors.New("bad control command")

// Command is one decoded control request
type Command struct {
	Op   Op
	Sink *net.UDPAddr // start only
}

// ParseCommand decodes a control request. Anything starting with "stop" is
// a stop; everything else must be a start command with 8 hex digits of
// IPv4 address at offset 6 and 4 hex digits of port at offset 15.
func ParseCommand(b []byte) (Command, error) {
	s := string(b)
	if strings.HasPrefix(s, "stop") {
		return Command{Op: OpStop}, nil
	}

	if len(s) < MinStartLength {
		return Command{}, fmt.Errorf("%w: %d bytes, need %d", ErrBadCommand, len(s), MinStartLength)
	}
	if !strings.HasPrefix(s, "start") {
		return Command{}, fmt.Errorf("%w: %q", ErrBadCommand, s)
	}

	ip, err := hexField(s[ipOffset : ipOffset+8])
	if err != nil {
		return Command{}, err
	}
	port, err := hexField(s[portOffset : portOffset+4])
	if err != nil {
		return Command{}, err
	}

	sink := &net.UDPAddr{
		IP:   net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip)),
		Port: int(port),
	}
	return Command{Op: OpStart, Sink: sink}, nil
}

func hexField(f string) (uint64, error) {
	v, err := strconv.ParseUint(f, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: field %q is not hex", ErrBadCommand, f)
	}
	return v, nil
}
