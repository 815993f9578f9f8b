// ABOUTME: Assembles and runs a full receive-and-play pipeline
// ABOUTME: Wires receiver, source, player and optional capture/tap sinks with ordered teardown
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pcmstream/pcmstream-go/internal/config"
	"github.com/pcmstream/pcmstream-go/internal/discovery"
	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"github.com/pcmstream/pcmstream-go/pkg/audio/output"
	"github.com/pcmstream/pcmstream-go/pkg/capture"
	"github.com/pcmstream/pcmstream-go/pkg/player"
	"github.com/pcmstream/pcmstream-go/pkg/queue"
	"github.com/pcmstream/pcmstream-go/pkg/receiver"
	"github.com/pcmstream/pcmstream-go/pkg/source"
	"github.com/pcmstream/pcmstream-go/pkg/tap"
	"golang.org/x/sync/errgroup"
)

const (
	// StatusInterval is how often status snapshots are published
	StatusInterval = 500 * time.Millisecond

	// underrunLogInterval rate-limits underrun log lines
	underrunLogInterval = time.Second
)

// Status is a point-in-time view of the whole pipeline
type Status struct {
	SessionID      string
	Playing        bool
	Receiver       receiver.Stats
	Player         player.Stats
	TapClients     int
	CaptureSamples int64
}

// Pipeline owns every component of one run
type Pipeline struct {
	config    config.Config
	format    audio.Format
	sessionID string
	out       output.Output

	playQueue *queue.Queue
	queues    []*queue.Queue

	receiver *receiver.Receiver
	source   source.PacketSource
	player   *player.Player
	recorder *capture.Recorder
	tap      *tap.Tap
	advert   *discovery.Manager

	sinks     errgroup.Group
	sinksOnce sync.Once
	playing   bool
	mu        sync.Mutex

	lastUnderruns   int64
	lastUnderrunLog time.Time
}

// New validates cfg and prepares a pipeline playing through out
func New(cfg config.Config, out output.Output) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Pipeline{
		config:    cfg,
		format:    audio.Mono(cfg.SampleRate),
		sessionID: uuid.New().String(),
		out:       out,
		playQueue: queue.New(),
	}
	p.queues = []*queue.Queue{p.playQueue}

	pl, err := player.New(player.Config{
		SampleRate:      cfg.SampleRate,
		FrameCount:      cfg.Frames(),
		PrebufferFactor: cfg.PrebufferFactor,
		Blocking:        cfg.Blocking,
	}, p.playQueue, out)
	if err != nil {
		return nil, err
	}
	p.player = pl

	// Each sink gets its own queue from the receiver's fan-out
	if cfg.Tap != "" {
		q := queue.New()
		t, err := tap.New(tap.Config{Addr: cfg.Tap, Format: p.format, Encoding: cfg.TapEncoding}, q)
		if err != nil {
			return nil, err
		}
		p.tap = t
		p.queues = append(p.queues, q)
	}
	if cfg.Capture != "" {
		q := queue.New()
		rec, err := capture.New(cfg.Capture, p.format, q)
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
		p.recorder = rec
		p.queues = append(p.queues, q)
	}

	p.receiver = receiver.New(receiver.Config{Addr: cfg.Local}, p.queues...)
	return p, nil
}

// SessionID identifies this run in logs and advertisements
func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// Run starts the pipeline, plays for the configured run time or until ctx is
// cancelled, and tears everything down. onStatus, if set, receives a
// snapshot every StatusInterval.
func (p *Pipeline) Run(ctx context.Context, onStatus func(Status)) error {
	runCtx := ctx
	if p.config.RunTime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.config.RunTime)
		defer cancel()
	}

	statusDone := make(chan struct{})
	statusStopped := make(chan struct{})
	go func() {
		defer close(statusStopped)
		p.statusLoop(statusDone, onStatus)
	}()

	runErr := p.start(runCtx)
	if runErr == nil {
		runErr = p.play(runCtx)
	}

	stopErr := p.Stop()

	close(statusDone)
	<-statusStopped

	if runErr != nil {
		return runErr
	}
	return stopErr
}

// start brings components up in dependency order: sinks first, then the
// receiver, then the source, then playback
func (p *Pipeline) start(ctx context.Context) error {
	log.Printf("Session %s: %dHz, %d samples/message, %d samples/frame, source %s, output %s",
		p.sessionID, p.config.SampleRate, p.config.SamplesPerMessage, p.config.Frames(),
		p.config.Source, p.config.Output)

	if p.tap != nil {
		if err := p.tap.Start(); err != nil {
			return err
		}
	}
	p.startSinks()

	if err := p.receiver.Run(); err != nil {
		return err
	}

	if p.config.Advertise {
		p.advertise()
	}

	src, err := p.buildSource(ctx)
	if err != nil {
		return err
	}
	p.source = src

	// The source outlives the run context and is ended by Stop
	if err := src.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start %s source: %w", p.config.Source, err)
	}

	if err := p.player.Start(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, player.ErrStopped) {
			log.Printf("Run ended before playback started")
			return nil
		}
		return err
	}

	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
	return nil
}

// startSinks launches the capture and tap consumers. They drain their
// queues until the queues are closed during teardown.
func (p *Pipeline) startSinks() {
	p.sinksOnce.Do(func() {
		if p.recorder != nil {
			p.sinks.Go(func() error { return p.recorder.Run(context.Background()) })
		}
		if p.tap != nil {
			p.sinks.Go(func() error { return p.tap.Run(context.Background()) })
		}
	})
}

// play waits for the run to end. In blocking mode it drives the device
// from this goroutine.
func (p *Pipeline) play(ctx context.Context) error {
	if !p.Playing() {
		return nil
	}

	if p.config.Blocking {
		if err := p.player.Write(ctx, 0); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	select {
	case <-ctx.Done():
	case <-p.receiver.Done():
		return p.receiver.Err()
	}
	return nil
}

// buildSource constructs the configured packet source
func (p *Pipeline) buildSource(ctx context.Context) (source.PacketSource, error) {
	kind, err := source.ParseKind(p.config.Source)
	if err != nil {
		return nil, err
	}

	switch kind {
	case source.KindHardware:
		device := p.config.Device
		if device == config.DeviceAuto {
			log.Printf("Browsing for a streaming device...")
			device, err = discovery.FindDevice(ctx, discovery.DefaultBrowseTimeout)
			if err != nil {
				return nil, fmt.Errorf("device discovery: %w", err)
			}
			log.Printf("Discovered device at %s", device)
		}
		sink, err := p.hardwareSink(device)
		if err != nil {
			return nil, err
		}
		return source.NewHardware(source.HardwareConfig{Device: device, Sink: sink})

	case source.KindFile:
		return source.NewFile(source.FileConfig{
			Sink:              p.sinkAddr(),
			Path:              p.config.File,
			SampleRate:        p.config.SampleRate,
			SamplesPerMessage: p.config.SamplesPerMessage,
			Sequenced:         p.config.Sequenced,
		})

	default:
		return source.NewSynthetic(source.SyntheticConfig{
			Sink:              p.sinkAddr(),
			SampleRate:        p.config.SampleRate,
			SamplesPerMessage: p.config.SamplesPerMessage,
			Tones:             p.config.Tones,
			Sequenced:         p.config.Sequenced,
		})
	}
}

// sinkAddr is where local sources stream to: the configured sink, or the
// receiver's bound port on the configured host
func (p *Pipeline) sinkAddr() string {
	if p.config.Sink != "" {
		return p.config.Sink
	}
	sink := p.config.SinkAddr()
	if p.receiver.LocalAddr() == nil {
		return sink
	}
	host, _, err := net.SplitHostPort(sink)
	if err != nil {
		return sink
	}
	port := p.receiver.LocalAddr().(*net.UDPAddr).Port
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// hardwareSink picks the address a remote device should stream to. Without
// an explicit sink it uses the local interface that routes to the device.
func (p *Pipeline) hardwareSink(device string) (string, error) {
	if p.config.Sink != "" {
		return p.config.Sink, nil
	}

	conn, err := net.Dial("udp4", device)
	if err != nil {
		return "", fmt.Errorf("no route to device %s: %w", device, err)
	}
	defer conn.Close()

	local := conn.LocalAddr().(*net.UDPAddr)
	port := p.receiver.LocalAddr().(*net.UDPAddr).Port
	return net.JoinHostPort(local.IP.String(), strconv.Itoa(port)), nil
}

// advertise publishes the receiver over mDNS. Failure is not fatal.
func (p *Pipeline) advertise() {
	port := p.receiver.LocalAddr().(*net.UDPAddr).Port
	m := discovery.NewManager(discovery.Config{
		Instance:          "pcmstream-" + p.sessionID[:8],
		Port:              port,
		Role:              discovery.RoleSink,
		SampleRate:        p.config.SampleRate,
		SamplesPerMessage: p.config.SamplesPerMessage,
	})
	if err := m.Advertise(); err != nil {
		log.Printf("Warning: mDNS advertisement failed: %v", err)
		return
	}
	p.advert = m
}

// Stop tears the pipeline down: player, receiver, source, then the queues
// are closed and the sinks drain what is left. Safe to call repeatedly.
func (p *Pipeline) Stop() error {
	var errs []error

	if err := p.player.Stop(); err != nil {
		errs = append(errs, err)
	}
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()

	if err := p.receiver.Close(); err != nil {
		errs = append(errs, err)
	}

	if p.source != nil {
		if err := p.source.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	for _, q := range p.queues {
		q.Close()
	}

	// A run that failed early still finishes the capture file
	p.startSinks()

	if err := p.sinks.Wait(); err != nil {
		errs = append(errs, err)
	}

	if p.tap != nil {
		if err := p.tap.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.advert != nil {
		p.advert.Stop()
		p.advert = nil
	}

	return errors.Join(errs...)
}

// Playing reports whether the device is running
func (p *Pipeline) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Status returns a snapshot of every component's counters
func (p *Pipeline) Status() Status {
	s := Status{
		SessionID: p.sessionID,
		Playing:   p.Playing(),
		Receiver:  p.receiver.Stats(),
		Player:    p.player.Stats(),
	}
	if p.tap != nil {
		s.TapClients = p.tap.Clients()
	}
	if p.recorder != nil {
		s.CaptureSamples = p.recorder.Samples()
	}
	return s
}

// statusLoop publishes snapshots and logs underrun growth
func (p *Pipeline) statusLoop(done <-chan struct{}, onStatus func(Status)) {
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			s := p.Status()
			p.logUnderruns(now, s.Player.Underruns)
			if onStatus != nil {
				onStatus(s)
			}
		}
	}
}

// logUnderruns reports new underruns at most once per underrunLogInterval
func (p *Pipeline) logUnderruns(now time.Time, total int64) {
	if total <= p.lastUnderruns || now.Sub(p.lastUnderrunLog) < underrunLogInterval {
		return
	}
	log.Printf("Buffer underrun: %d new (%d total), output padded with silence",
		total-p.lastUnderruns, total)
	p.lastUnderruns = total
	p.lastUnderrunLog = now
}
