package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/syncline/syncline/internal/api"
	"github.com/syncline/syncline/internal/connection"
	"github.com/syncline/syncline/internal/infrastructure/config"
	"github.com/syncline/syncline/internal/infrastructure/logging"
	"github.com/syncline/syncline/internal/infrastructure/monitoring"
	"github.com/syncline/syncline/internal/session"
)

func main() {
	cfg := config.LoadOrDefault()

	// Flags win over environment.
	url := flag.String("url", cfg.Endpoint.URL, "Stream endpoint URL")
	sessionID := flag.String("session", "", "Session ID to resume")
	debugAddr := flag.String("debug", cfg.Debug.Addr, "Debug server address")
	debugOn := flag.Bool("debug-enabled", cfg.Debug.Enabled, "Serve /metrics and /stats")
	logLevel := flag.String("log-level", cfg.Logging.Level, "Log level")
	flag.Parse()

	logger, err := logging.New(logging.Config{
		Level:       *logLevel,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metrics := monitoring.NewMetrics()
	manager := connection.NewManager(cfg.Backoff, cfg.RateLimit, logger, metrics)

	render := newRenderer()
	controller := session.NewController(*url, manager, session.Options{
		SessionID: *sessionID,
		Logger:    logger,
		Metrics:   metrics,
		Hooks: session.Hooks{
			OnChange: func() { render.onChange() },
			OnError:  func(msg string) { render.printError(msg) },
		},
	})
	render.controller = controller
	controller.Connect()

	var debug *api.DebugServer
	if *debugOn {
		debug = api.NewDebugServer(cfg.RateLimit, logger, metrics, controller.Snapshot)
		go func() {
			if err := debug.Run(*debugAddr); err != nil {
				logger.Error("Debug server failed", zap.Error(err))
			}
		}()
	}

	fmt.Printf("Connected to %s. Type a prompt, /cancel, /clear, or /quit\n", *url)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go readLoop(controller, render, done)

	select {
	case <-sigChan:
	case <-done:
	}

	logger.Info("Shutting down")
	controller.Disconnect()
	manager.Shutdown()
	if debug != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		debug.Shutdown(ctx)
	}
}

// readLoop consumes prompt lines from stdin until EOF or /quit.
func readLoop(controller *session.Controller, render *renderer, done chan<- struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/cancel":
			controller.Cancel()
		case line == "/clear":
			controller.ClearMessages()
			render.reset()
			fmt.Println("(history cleared)")
		default:
			if err := controller.Send(line); err != nil {
				render.printError(err.Error())
			}
		}
	}
}

// renderer prints streamed deltas as they arrive. The controller fires
// OnChange from its dispatch goroutine, so printing is serialized here.
type renderer struct {
	mu         sync.Mutex
	controller *session.Controller
	printed    int
	toolsSeen  map[string]bool
	wasLive    bool
}

func newRenderer() *renderer {
	return &renderer{toolsSeen: make(map[string]bool)}
}

func (r *renderer) onChange() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.controller == nil {
		return
	}

	text := r.controller.StreamingText()
	if len(text) > r.printed {
		fmt.Print(text[r.printed:])
		r.printed = len(text)
		r.wasLive = true
	}

	for _, tool := range r.controller.CompletedTools() {
		if r.toolsSeen[tool.ID] {
			continue
		}
		r.toolsSeen[tool.ID] = true
		label := tool.Name
		if tool.Friendly != "" {
			label = tool.Friendly
		}
		if tool.Duration != nil {
			fmt.Printf("\n  [%s %dms]\n", label, *tool.Duration)
		} else {
			fmt.Printf("\n  [%s]\n", label)
		}
	}

	if r.wasLive && !r.controller.IsStreaming() {
		fmt.Println()
		r.resetLocked()
	}
}

func (r *renderer) printError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Printf("\n! %s\n", msg)
}

func (r *renderer) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *renderer) resetLocked() {
	r.printed = 0
	r.toolsSeen = make(map[string]bool)
	r.wasLive = false
}
