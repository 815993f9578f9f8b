// ABOUTME: Entry point for the pcmstream receiver and player
// ABOUTME: Parses CLI flags and config, then runs the pipeline with optional monitor TUI
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pcmstream/pcmstream-go/internal/config"
	"github.com/pcmstream/pcmstream-go/internal/listen"
	"github.com/pcmstream/pcmstream-go/internal/pipeline"
	"github.com/pcmstream/pcmstream-go/internal/ui"
	"github.com/pcmstream/pcmstream-go/internal/version"
	"github.com/pcmstream/pcmstream-go/pkg/audio/output"
	"github.com/spf13/cobra"
)

var (
	configPath string
	useTUI     bool
	flagValues = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "pcmstream",
	Short: "Receive and play a raw L16 audio stream over UDP",
	Long: `pcmstream receives 16-bit mono PCM carried in UDP datagrams behind a
12-byte RTP header and plays it through the local sound device.

A packet source drives the stream: a built-in synthetic test signal, an audio
file, or a hardware device commanded over TCP.

Examples:
  # Play the synthetic test signal for 5 seconds
  pcmstream

  # Ask a device to stream to this host for a minute
  pcmstream --source hardware --device 192.168.1.50:7 --run-time 1m

  # Find the device over mDNS and watch the stream in the monitor
  pcmstream --source hardware --device auto --tui`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runStream,
}

var listenCmd = &cobra.Command{
	Use:   "listen [addr]",
	Short: "Print every datagram arriving on a UDP port",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := flagValues.Local
		if len(args) == 1 {
			addr = args[0]
		}
		ctx, stop := signalContext()
		defer stop()

		n, err := listen.Run(ctx, addr, os.Stdout)
		fmt.Printf("%d datagrams\n", n)
		return err
	},
}

var configCmd = &cobra.Command{
	Use:   "config <path>",
	Short: "Write the effective configuration to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := config.Save(args[0], cfg); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", args[0])
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.StringVar(&flagValues.Local, "local", flagValues.Local, "Local ip:port to receive on")
	f.StringVar(&flagValues.Sink, "sink", "", "ip:port sources stream to (default: the local address)")
	f.StringVar(&flagValues.Device, "device", "", "Device control ip:port, or \"auto\" to browse mDNS")
	f.StringVar(&flagValues.Source, "source", flagValues.Source, "Packet source: synthetic, hardware or file")
	f.StringVar(&flagValues.File, "file", "", "Audio file for the file source (MP3, FLAC, raw L16)")
	f.Float64SliceVar(&flagValues.Tones, "tones", nil, "Synthetic tone frequencies in Hz")
	f.StringVar(&flagValues.Output, "output", flagValues.Output, fmt.Sprintf("Audio backend %v", output.Backends))
	f.BoolVar(&flagValues.Blocking, "blocking", false, "Push audio with blocking writes instead of a device callback")
	f.IntVar(&flagValues.SampleRate, "sample-rate", flagValues.SampleRate, "Sampling frequency in Hz")
	f.IntVar(&flagValues.SamplesPerMessage, "samples-per-message", flagValues.SamplesPerMessage, "Samples carried by each datagram")
	f.IntVar(&flagValues.FrameCount, "frame-count", 0, "Samples per device period (default: sample rate / 10)")
	f.IntVar(&flagValues.PrebufferFactor, "prebuffer", flagValues.PrebufferFactor, "Pre-buffer depth in device frames")
	f.BoolVar(&flagValues.Sequenced, "sequenced", false, "Advance RTP sequence numbers on generated streams")
	f.DurationVar(&flagValues.RunTime, "run-time", flagValues.RunTime, "How long to play (0 runs until interrupted)")
	f.StringVar(&flagValues.Capture, "capture", "", "Record the stream to a .flac or .pcm file")
	f.StringVar(&flagValues.Tap, "tap", "", "Serve a WebSocket PCM tap on this ip:port")
	f.StringVar(&flagValues.TapEncoding, "tap-encoding", "", "Tap encoding: pcm or opus")
	f.BoolVar(&flagValues.Advertise, "advertise", false, "Advertise the receiver over mDNS")
	f.StringVar(&flagValues.LogFile, "log-file", flagValues.LogFile, "Log file path")
	rootCmd.Flags().BoolVar(&useTUI, "tui", false, "Show the stream monitor")

	rootCmd.AddCommand(listenCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies every flag set explicitly
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("local", func() { cfg.Local = flagValues.Local })
	set("sink", func() { cfg.Sink = flagValues.Sink })
	set("device", func() { cfg.Device = flagValues.Device })
	set("source", func() { cfg.Source = flagValues.Source })
	set("file", func() { cfg.File = flagValues.File })
	set("tones", func() { cfg.Tones = flagValues.Tones })
	set("output", func() { cfg.Output = flagValues.Output })
	set("blocking", func() { cfg.Blocking = flagValues.Blocking })
	set("sample-rate", func() { cfg.SampleRate = flagValues.SampleRate })
	set("samples-per-message", func() { cfg.SamplesPerMessage = flagValues.SamplesPerMessage })
	set("frame-count", func() { cfg.FrameCount = flagValues.FrameCount })
	set("prebuffer", func() { cfg.PrebufferFactor = flagValues.PrebufferFactor })
	set("sequenced", func() { cfg.Sequenced = flagValues.Sequenced })
	set("run-time", func() { cfg.RunTime = flagValues.RunTime })
	set("capture", func() { cfg.Capture = flagValues.Capture })
	set("tap", func() { cfg.Tap = flagValues.Tap })
	set("tap-encoding", func() { cfg.TapEncoding = flagValues.TapEncoding })
	set("advertise", func() { cfg.Advertise = flagValues.Advertise })
	set("log-file", func() { cfg.LogFile = flagValues.LogFile })

	return cfg, cfg.Validate()
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received %v signal, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Set up logging
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer f.Close()

	if useTUI {
		// TUI mode: the terminal belongs to the monitor
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	log.Printf("Starting %s", version.String())
	log.Printf("Logging to: %s", cfg.LogFile)

	out, err := output.New(cfg.Output)
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg, out)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	var onStatus func(pipeline.Status)
	if useTUI {
		monitor := ui.NewMonitor(ui.StreamInfo{
			Source:            cfg.Source,
			Sink:              cfg.SinkAddr(),
			Device:            cfg.Device,
			Output:            cfg.Output,
			SampleRate:        cfg.SampleRate,
			SamplesPerMessage: cfg.SamplesPerMessage,
			FrameCount:        cfg.Frames(),
			RunTime:           cfg.RunTime,
		})

		tuiDone := make(chan struct{})
		go func() {
			defer close(tuiDone)
			if err := monitor.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
		defer func() {
			monitor.Stop()
			<-tuiDone
		}()

		go func() {
			select {
			case <-monitor.Quit():
				log.Printf("Received quit from TUI")
				stop()
			case <-ctx.Done():
			}
		}()

		onStatus = func(s pipeline.Status) {
			monitor.Update(statusMsg(s))
		}
	}

	if err := p.Run(ctx, onStatus); err != nil {
		return err
	}

	s := p.Status()
	log.Printf("Session %s finished: %d datagrams, %d frames, %d underruns",
		p.SessionID(), s.Receiver.Datagrams, s.Player.Frames, s.Player.Underruns)
	return nil
}

// statusMsg converts a pipeline snapshot for the monitor
func statusMsg(s pipeline.Status) ui.StatusMsg {
	return ui.StatusMsg{
		Datagrams:      s.Receiver.Datagrams,
		Bytes:          s.Receiver.Bytes,
		Malformed:      s.Receiver.Malformed,
		SequenceGaps:   s.Receiver.SequenceGaps,
		LastSender:     s.Receiver.LastSender,
		Playing:        s.Playing,
		Frames:         s.Player.Frames,
		Underruns:      s.Player.Underruns,
		QueueDepth:     s.Player.QueueDepth,
		Threshold:      s.Player.Threshold,
		Leftover:       s.Player.Leftover,
		LastActivity:   s.Player.LastActivity,
		TapClients:     s.TapClients,
		CaptureSamples: s.CaptureSamples,
	}
}
