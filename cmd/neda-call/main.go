// Command neda-call is a terminal client for the Neda voice bridge. It opens
// the microphone, connects a live session to the server, and plays assistant
// audio through the default output device.
//
// Controls: type "m" + Enter to toggle mute, "q" + Enter (or Ctrl+C) to quit.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/neda-ai/neda/internal/config"
	"github.com/neda-ai/neda/pkg/audio"
	"github.com/neda-ai/neda/pkg/voice"
	"github.com/neda-ai/neda/pkg/voice/capture"
	"github.com/neda-ai/neda/pkg/voice/capture/malgodev"
	"github.com/neda-ai/neda/pkg/voice/playback"
	"github.com/neda-ai/neda/pkg/voice/playback/malgosink"
	"github.com/neda-ai/neda/pkg/voice/transport"
)

func main() {
	os.Exit(run())
}

// tunables are the audio parameters the client can adjust per call.
type tunables struct {
	gain      float64
	threshold float64
	blockSize int
}

// resolveTunables merges audio settings with flag-over-config-over-default
// precedence: a flag given on the command line always wins, then a non-zero
// config value, then the package default baked into the flag value.
func resolveTunables(audio config.AudioConfig, set map[string]bool, gain, threshold float64, blockSize int) tunables {
	tun := tunables{gain: gain, threshold: threshold, blockSize: blockSize}
	if !set["gain"] && audio.CaptureGain > 0 {
		tun.gain = audio.CaptureGain
	}
	if !set["threshold"] && audio.BargeInThreshold > 0 {
		tun.threshold = audio.BargeInThreshold
	}
	if !set["block"] && audio.BlockSize > 0 {
		tun.blockSize = audio.BlockSize
	}
	return tun
}

func run() int {
	serverURL := flag.String("url", "ws://localhost:8080/live", "websocket URL of the neda server")
	configPath := flag.String("config", "", "server config file; its audio section supplies capture tunables")
	voiceName := flag.String("voice", "", "assistant voice profile (empty for server default)")
	gain := flag.Float64("gain", capture.DefaultGain, "microphone gain")
	threshold := flag.Float64("threshold", voice.DefaultBargeInThreshold, "barge-in loudness threshold")
	blockSize := flag.Int("block", capture.DefaultBlockSize, "capture block size in samples")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	var audioCfg config.AudioConfig
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "neda-call: %v\n", err)
			return 1
		}
		audioCfg = cfg.Audio
	}
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	tun := resolveTunables(audioCfg, setFlags, *gain, *threshold, *blockSize)

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Speaker ───────────────────────────────────────────────────────────────
	speaker, err := malgosink.New(audio.PlaybackRate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "neda-call: open output device: %v\n", err)
		return 1
	}
	defer speaker.Close()
	scheduler := playback.NewScheduler(speaker)

	// ── Transport ─────────────────────────────────────────────────────────────
	client, err := transport.Dial(ctx, *serverURL, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "neda-call: connect to %s: %v\n", *serverURL, err)
		return 1
	}
	defer client.Close()

	// ── Session manager ───────────────────────────────────────────────────────
	manager := voice.NewManager(voice.Config{
		Transport: client,
		NewCapture: func() voice.Capture {
			return capture.NewPipeline(malgodev.New(audio.CaptureRate),
				capture.WithGain(tun.gain),
				capture.WithBlockSize(tun.blockSize))
		},
		Playback:         scheduler,
		Voice:            *voiceName,
		BargeInThreshold: tun.threshold,
		Logger:           log,
	})
	defer manager.Disconnect()

	if err := manager.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "neda-call: %v\n", err)
		return 1
	}

	fmt.Println("connected — speak to the assistant ('m' toggles mute, 'q' quits)")

	// ── Input loop ────────────────────────────────────────────────────────────
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nhanging up")
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			switch line {
			case "m":
				muted := !manager.Muted()
				manager.ToggleMute(muted)
				if muted {
					fmt.Println("muted")
				} else {
					fmt.Println("unmuted")
				}
			case "q":
				fmt.Println("hanging up")
				return 0
			}
		}
	}
}
