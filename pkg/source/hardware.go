// ABOUTME: Hardware packet source control shim
// ABOUTME: Commands a remote device over TCP to start or stop streaming to a sink
package source

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// DefaultDialTimeout bounds the control connection attempt
const DefaultDialTimeout = 3 * time.Second

// HardwareConfig configures a Hardware source
type HardwareConfig struct {
	// Device is the ip:port of the device's control endpoint
	Device string

	// Sink is the ip:port the device should stream to
	Sink string

	DialTimeout time.Duration
}

// Hardware asks an external device to stream. It owns no audio data.
type Hardware struct {
	config  HardwareConfig
	started bool
}

// NewHardware creates a hardware shim
func NewHardware(config HardwareConfig) (*Hardware, error) {
	if config.Device == "" {
		return nil, fmt.Errorf("hardware source needs a device address")
	}
	if _, err := StartCommand(config.Sink); err != nil {
		return nil, err
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	return &Hardware{config: config}, nil
}

// StartCommand formats the start command for a sink: the IPv4 address as
// 8 hex digits and the port as 4.
func StartCommand(sink string) (string, error) {
	host, portStr, err := net.SplitHostPort(sink)
	if err != nil {
		return "", fmt.Errorf("invalid sink address %q: %w", sink, err)
	}

	ip := net.ParseIP(host).To4()
	if ip == nil {
		return "", fmt.Errorf("sink %q is not an IPv4 address", host)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", fmt.Errorf("invalid sink port %q: %w", portStr, err)
	}

	return fmt.Sprintf("start %02x%02x%02x%02x %04x", ip[0], ip[1], ip[2], ip[3], port), nil
}

// StopCommand is sent to end streaming
const StopCommand = "stop"

// Start tells the device to stream to the sink
func (h *Hardware) Start(ctx context.Context) error {
	cmd, err := StartCommand(h.config.Sink)
	if err != nil {
		return err
	}
	if err := h.send(ctx, cmd); err != nil {
		return err
	}
	h.started = true
	log.Printf("Device %s commanded to stream to %s", h.config.Device, h.config.Sink)
	return nil
}

// Stop tells the device to stop streaming
func (h *Hardware) Stop() error {
	if !h.started {
		return nil
	}
	h.started = false

	ctx, cancel := context.WithTimeout(context.Background(), h.config.DialTimeout)
	defer cancel()

	if err := h.send(ctx, StopCommand); err != nil {
		return err
	}
	log.Printf("Device %s commanded to stop", h.config.Device)
	return nil
}

// send opens a short-lived connection, writes cmd and disconnects. No
// response is read.
func (h *Hardware) send(ctx context.Context, cmd string) error {
	d := net.Dialer{Timeout: h.config.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", h.config.Device)
	if err != nil {
		return &audio.TransportError{Op: "dial", Addr: h.config.Device, Err: err}
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(cmd)); err != nil {
		return &audio.TransportError{Op: "send", Addr: h.config.Device, Err: err}
	}
	return nil
}
