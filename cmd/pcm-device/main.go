// ABOUTME: Entry point for the streaming device emulator
// ABOUTME: Listens for start/stop control commands and streams a test signal to the commanded sink
package main

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pcmstream/pcmstream-go/internal/device"
	"github.com/pcmstream/pcmstream-go/internal/version"
	"github.com/spf13/cobra"
)

var (
	cfg     = device.Config{SampleRate: 16000, SamplesPerMessage: 320}
	port    int
	host    string
	logFile string
)

var rootCmd = &cobra.Command{
	Use:   "pcm-device",
	Short: "Emulate a PCM streaming device on the control protocol",
	Long: `pcm-device accepts "start XXXXXXXX PPPP" and "stop" commands over TCP,
like the streaming hardware, and sends a synthetic L16 stream to the
commanded sink.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&host, "host", "0.0.0.0", "Control listener address")
	f.IntVar(&port, "port", device.DefaultControlPort, "Control listener port")
	f.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Sampling frequency in Hz")
	f.IntVar(&cfg.SamplesPerMessage, "samples-per-message", cfg.SamplesPerMessage, "Samples per datagram")
	f.Float64SliceVar(&cfg.Tones, "tones", nil, "Tone frequencies in Hz")
	f.BoolVar(&cfg.Sequenced, "sequenced", false, "Advance RTP sequence numbers")
	f.BoolVar(&cfg.Advertise, "advertise", true, "Advertise the control endpoint over mDNS")
	f.StringVar(&cfg.Instance, "name", "", "mDNS instance name (default: hostname-pcm-device)")
	f.StringVar(&logFile, "log-file", "pcm-device.log", "Log file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Set up logging (both file and console)
	f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer f.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, f))

	if cfg.Instance == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Instance = fmt.Sprintf("%s-pcm-device", hostname)
	}
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))

	emu := device.New(cfg)
	if err := emu.Start(); err != nil {
		return err
	}

	log.Printf("Starting %s device emulator: %s", version.Product, cfg.Instance)
	log.Printf("Press Ctrl-C to stop")

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received %v signal, shutting down...", sig)

	if err := emu.Close(); err != nil {
		return err
	}
	log.Printf("Device stopped after %d commands (%d rejected)", emu.Commands(), emu.Rejected())
	return nil
}
