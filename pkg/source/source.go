// ABOUTME: Packet source abstraction
// ABOUTME: Common start/stop capability shared by synthetic, file and hardware sources
package source

import (
	"context"
	"fmt"
	"strings"
)

// PacketSource produces an outbound UDP audio stream towards a sink
type PacketSource interface {
	// Start begins streaming. It returns once streaming is under way.
	Start(ctx context.Context) error

	// Stop ends streaming and releases owned resources
	Stop() error
}

// Kind names a source variant
type Kind string

const (
	KindSynthetic Kind = "synthetic"
	KindHardware  Kind = "hardware"
	KindFile      Kind = "file"
)

// ParseKind validates a source kind name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSynthetic, KindHardware, KindFile:
		return k, nil
	case "":
		return KindSynthetic, nil
	default:
		return "", fmt.Errorf("unknown source kind: %q", s)
	}
}

// DefaultTones are the frequencies superimposed by the synthetic source
var DefaultTones = []float64{500, 2000, 4000, 7000, 10000, 11000}
