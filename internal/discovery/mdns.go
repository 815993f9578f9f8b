// ABOUTME: mDNS service discovery for PCM streaming
// ABOUTME: Advertises receiving sinks and device control endpoints, and browses for devices
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// Role selects which service a Manager advertises
type Role int

const (
	// RoleSink is a receiver accepting the UDP audio stream
	RoleSink Role = iota
	// RoleDevice is a streaming device accepting control commands
	RoleDevice
)

const (
	SinkService   = "_pcmstream._udp"
	DeviceService = "_pcmstream-ctl._tcp"
	Domain        = "local"

	// DefaultBrowseTimeout is how long one query waits for answers
	DefaultBrowseTimeout = 3 * time.Second
)

// ServiceType returns the mDNS service type for a role
func (r Role) ServiceType() string {
	if r == RoleDevice {
		return DeviceService
	}
	return SinkService
}

// Config holds discovery configuration
type Config struct {
	Instance string
	Port     int
	Role     Role

	// SampleRate and SamplesPerMessage are published as TXT records
	SampleRate        int
	SamplesPerMessage int
}

// ServiceInfo describes a discovered service
type ServiceInfo struct {
	Name string
	Host string
	Port int
	TXT  map[string]string
}

// Addr returns host:port
func (s *ServiceInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	server *mdns.Server
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	return &Manager{config: config}
}

// TXTRecords returns the TXT fields advertised for config
func TXTRecords(config Config) []string {
	var txt []string
	if config.SampleRate > 0 {
		txt = append(txt, "rate="+strconv.Itoa(config.SampleRate))
	}
	if config.SamplesPerMessage > 0 {
		txt = append(txt, "spm="+strconv.Itoa(config.SamplesPerMessage))
	}
	return append(txt, "format=L16")
}

// ParseTXT turns key=value TXT fields into a map
func ParseTXT(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, _ := strings.Cut(f, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// Advertise publishes the configured service until Stop
func (m *Manager) Advertise() error {
	if m.server != nil {
		return fmt.Errorf("already advertising")
	}

	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	serviceType := m.config.Role.ServiceType()

	service, err := mdns.NewMDNSService(
		m.config.Instance,
		serviceType,
		"",
		"",
		m.config.Port,
		ips,
		TXTRecords(m.config),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.Instance, m.config.Port, serviceType)
	return nil
}

// Browse runs one query for service and returns everything that answered
// within timeout
func Browse(ctx context.Context, service string, timeout time.Duration) ([]*ServiceInfo, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	var found []*ServiceInfo
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		for entry := range entries {
			if entry.AddrV4 == nil {
				continue
			}
			info := &ServiceInfo{
				Name: entry.Name,
				Host: entry.AddrV4.String(),
				Port: entry.Port,
				TXT:  ParseTXT(entry.InfoFields),
			}
			log.Printf("Discovered %s at %s", info.Name, info.Addr())
			found = append(found, info)
		}
	}()

	params := &mdns.QueryParam{
		Service: service,
		Domain:  Domain,
		Timeout: timeout,
		Entries: entries,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdns.Query(params)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		// Query cannot be interrupted; let it finish in the background
		go func() {
			<-errCh
			close(entries)
		}()
		return nil, ctx.Err()
	}

	close(entries)
	<-collected

	if err != nil {
		return nil, fmt.Errorf("mdns query failed: %w", err)
	}
	return found, nil
}

// FindDevice browses for a streaming device and returns its control address
func FindDevice(ctx context.Context, timeout time.Duration) (string, error) {
	devices, err := Browse(ctx, DeviceService, timeout)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("no %s service found", DeviceService)
	}
	return devices[0].Addr(), nil
}

// Stop withdraws the advertisement
func (m *Manager) Stop() {
	if m.server == nil {
		return
	}
	if err := m.server.Shutdown(); err != nil {
		log.Printf("Warning: mdns shutdown error: %v", err)
	}
	m.server = nil
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
