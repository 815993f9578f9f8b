// ABOUTME: Version and product identification
// ABOUTME: Reported by the CLI, mDNS TXT records and the monitor header
package version

// Version is overridden at link time with -ldflags "-X .../internal/version.Version=..."
var Version = "0.3.0"

const (
	Product      = "pcmstream"
	Manufacturer = "pcmstream project"
)

// String returns the product and version for banners
func String() string {
	return Product + " " + Version
}
