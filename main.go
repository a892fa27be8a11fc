package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bosley/parley/config"
	"github.com/bosley/parley/job"
	"github.com/bosley/parley/scribe"
	"github.com/bosley/parley/transcribe"
)

const shutdownTimeout = 30 * time.Second

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "Path to YAML config file")
	file := flag.String("file", "", "Audio file to transcribe")
	model := flag.String("model", "", "Model size: tiny, base, small, medium or large (default base)")
	diarizeFlag := flag.Bool("diarize", false, "Identify speakers (requires a diarization backend and token)")
	timestamps := flag.Bool("timestamps", false, "Include the timestamped section in the report")
	backend := flag.String("backend", "", "Transcription backend override: whispercpp or openai")
	serve := flag.Bool("serve", false, "Run the HTTP/WebSocket service instead of a single transcription")
	listModels := flag.Bool("list-models", false, "List available model sizes")
	flag.Parse()

	if *listModels {
		fmt.Println("Available models:")
		for _, m := range transcribe.Models {
			marker := ""
			if m.Name == transcribe.DefaultModel {
				marker = " (default)"
			}
			fmt.Printf("  %-7s %s%s\n", m.Name, m.Description, marker)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *backend != "" {
		cfg.Transcribe.Backend = *backend
		if err := cfg.Validate(); err != nil {
			slog.Error("Invalid backend", "error", err)
			os.Exit(1)
		}
	}
	level.Set(cfg.Level())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Debug("Received shutdown signal")
		cancel()
	}()

	if *serve {
		os.Exit(runServer(ctx, cfg, *configPath, level))
	}

	if *file == "" {
		slog.Error("An audio file must be provided with -file, or use -serve")
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(runOnce(ctx, cfg, job.Request{
		Source:     *file,
		Model:      *model,
		Diarize:    *diarizeFlag,
		Timestamps: *timestamps || cfg.Timestamps,
	}))
}

func runServer(ctx context.Context, cfg *config.Config, configPath string, level *slog.LevelVar) int {
	scribeService, err := scribe.New(cfg, scribe.Options{
		ConfigPath: configPath,
		Level:      level,
	})
	if err != nil {
		slog.Error("Failed to initialize Scribe", "error", err)
		return 1
	}

	if err := scribeService.Start(ctx); err != nil {
		slog.Error("Scribe service failed", "error", err)
	}

	stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := scribeService.Stop(stopCtx); err != nil {
		slog.Error("Failed to stop Scribe service", "error", err)
		return 1
	}

	slog.Debug("Program exiting")
	return 0
}

func runOnce(ctx context.Context, cfg *config.Config, req job.Request) int {
	controller, store, err := scribe.NewController(cfg)
	if err != nil {
		slog.Error("Failed to initialize transcription", "error", err)
		return 1
	}
	if store != nil {
		defer store.Close()
	}

	if req.Diarize {
		req.Token = cfg.Token()
		if req.Token == nil {
			slog.Warn("Speaker identification requested but no token is set", "env", cfg.TokenEnv)
		}
	}

	j, err := controller.Start(req)
	if err != nil {
		var jobErr *job.Error
		if errors.As(err, &jobErr) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", jobErr.Reason)
		} else {
			slog.Error("Failed to start transcription", "error", err)
		}
		return 1
	}

	// Interrupt cancels the job; the pipeline stops at its next checkpoint
	go func() {
		select {
		case <-ctx.Done():
			if j.Cancel() {
				fmt.Fprintln(os.Stderr, "\nCancelling...")
			}
		case <-j.Done():
		}
	}()

	updates, unsubscribe := j.Subscribe()
	defer unsubscribe()

	var final job.Progress
	for p := range updates {
		printProgress(p)
		final = p
	}
	fmt.Fprintln(os.Stderr)

	<-j.Done()

	switch final.State {
	case job.Done:
		fmt.Printf("Transcript saved to %s\n", final.OutputPath)
		return 0
	case job.Cancelled:
		fmt.Fprintln(os.Stderr, "Transcription cancelled")
		return 130
	default:
		fmt.Fprintf(os.Stderr, "%s: %s\n", final.Kind, final.Error)
		if result := j.Result(); result != nil {
			// The report was produced but could not be saved
			fmt.Print(result.Report)
		}
		return 1
	}
}

func printProgress(p job.Progress) {
	eta := "--:--"
	if p.RemainingKnown {
		eta = formatClock(p.Remaining)
	}
	line := fmt.Sprintf("[%3.0f%%] %s  elapsed %s  remaining %s",
		p.Fraction*100, p.Phase, formatClock(p.Elapsed), eta)
	fmt.Fprintf(os.Stderr, "\r%-100s", strings.TrimSpace(line))
}

func formatClock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
