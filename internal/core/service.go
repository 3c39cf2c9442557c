package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/e7canasta/orion-keypad/internal/config"
	"github.com/e7canasta/orion-keypad/internal/control"
	"github.com/e7canasta/orion-keypad/internal/emitter"
	"github.com/e7canasta/orion-keypad/internal/lines"
	"github.com/e7canasta/orion-keypad/modules/eventbus"
	"github.com/e7canasta/orion-keypad/modules/matrixkeypad"
)

// Service is the keypadd orchestrator: one keypad, its event fan-out and
// the optional MQTT and HTTP surfaces.
type Service struct {
	cfg *config.Config

	// Core components
	lines          lines.Backend
	keypad         matrixkeypad.Keypad
	bus            eventbus.Bus
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	healthServer   *http.Server

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	suspended bool
	ready     chan struct{}      // closed once Run has wired every component
	cancelCtx context.CancelFunc // For MQTT shutdown command
}

// NewService creates a service for an already validated configuration
func NewService(cfg *config.Config) *Service {
	s := &Service{
		cfg:   cfg,
		bus:   eventbus.New(),
		ready: make(chan struct{}),
	}
	if cfg.MQTTEnabled() {
		s.emitter = emitter.NewMQTTEmitter(cfg)
	}
	return s
}

// NewServiceFromFile loads the configuration at path and creates the service
func NewServiceFromFile(path string) (*Service, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"driver", cfg.Lines.Driver,
		"rows", cfg.Rows(),
		"cols", cfg.Cols(),
	)

	return NewService(cfg), nil
}

// keypadConfig maps the file configuration onto the keypad constructor's
func keypadConfig(cfg *config.Config) matrixkeypad.Config {
	return matrixkeypad.Config{
		Rows:           cfg.Rows(),
		Cols:           cfg.Cols(),
		Debounce:       cfg.Keypad.Debounce(),
		ColumnSettle:   cfg.Keypad.ColumnSettle(),
		SettleDelay:    cfg.Keypad.SettleDelay(),
		Wakeup:         cfg.Keypad.WakeupSource,
		Keymap:         cfg.Keypad.KeymapRunes(),
		ReportReleases: cfg.Keypad.ReportReleases,
	}
}

// Run opens the lines, builds the keypad and blocks until ctx is cancelled
// (or a shutdown command arrives over MQTT).
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelCtx = cancel
	s.mu.Unlock()

	slog.Info("keypad service starting", "instance_id", s.cfg.InstanceID)

	backend, err := lines.Open(ctx, s.cfg.Lines)
	if err != nil {
		s.markStopped()
		return fmt.Errorf("failed to open lines: %w", err)
	}

	kp, err := matrixkeypad.New(backend, keypadConfig(s.cfg))
	if err != nil {
		backend.Close()
		s.markStopped()
		return fmt.Errorf("failed to create keypad: %w", err)
	}

	s.mu.Lock()
	s.lines = backend
	s.keypad = kp
	s.mu.Unlock()

	// Log sink: every event at info, drops when the logger falls behind
	logCh := make(chan eventbus.Event, 16)
	if err := s.bus.Subscribe("log", logCh); err != nil {
		return fmt.Errorf("failed to subscribe log sink: %w", err)
	}
	s.wg.Add(1)
	go s.logEvents(ctx, logCh)

	if s.emitter != nil {
		if err := s.startMQTT(ctx); err != nil {
			return err
		}
	}

	// Mailbox reader: the only consumer of the keypad
	s.wg.Add(1)
	go s.consumeEvents(ctx)

	if interval := s.cfg.StatsInterval(); interval > 0 {
		s.wg.Add(1)
		go s.reportStats(ctx, interval)
	}

	close(s.ready)

	slog.Info("keypad service running",
		"rows", s.cfg.Rows(),
		"cols", s.cfg.Cols(),
		"mqtt", s.emitter != nil,
	)

	<-ctx.Done()

	slog.Info("keypad service run loop exiting")
	return nil
}

// startMQTT connects the emitter, subscribes it to the bus and starts the
// control plane
func (s *Service) startMQTT(ctx context.Context) error {
	if err := s.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	mqttCh := make(chan eventbus.Event, 32)
	if err := s.bus.Subscribe("mqtt", mqttCh); err != nil {
		return fmt.Errorf("failed to subscribe mqtt emitter: %w", err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.emitter.Run(ctx, mqttCh)
	}()

	handler := control.NewHandler(s.cfg, s.emitter.Client, control.CommandCallbacks{
		OnGetStatus:   s.getStatus,
		OnGetSnapshot: s.getSnapshot,
		OnStart:       s.startKeypad,
		OnStop:        s.stopKeypad,
		OnSuspend:     s.Suspend,
		OnResume:      s.Resume,
		OnShutdown:    s.shutdownViaControl,
	})

	if err := handler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	s.mu.Lock()
	s.controlHandler = handler
	s.mu.Unlock()
	return nil
}

// consumeEvents reads the keypad mailbox and fans every event out on the bus
func (s *Service) consumeEvents(ctx context.Context) {
	defer s.wg.Done()

	slog.Info("keypad event consumer started")

	var count uint64
	for {
		ev, err := s.keypad.Read(ctx)
		switch {
		case err == nil:
		case errors.Is(err, matrixkeypad.ErrInterrupted), errors.Is(err, matrixkeypad.ErrClosed):
			slog.Info("keypad event consumer stopping", "total_events", count)
			return
		default:
			slog.Error("keypad read failed", "error", err)
			return
		}

		count++
		s.bus.Publish(eventbus.Event{
			Key:    ev,
			Source: s.cfg.InstanceID,
			ReadAt: time.Now(),
		})
	}
}

// logEvents is the log sink subscriber
func (s *Service) logEvents(ctx context.Context, ch <-chan eventbus.Event) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			attrs := []any{
				"row", ev.Key.Row,
				"col", ev.Key.Col,
				"pressed", ev.Key.Pressed,
				"seq", ev.Key.Seq,
			}
			if ev.Key.HasSymbol {
				attrs = append(attrs, "symbol", string(ev.Key.Symbol))
			}
			slog.Info("key event", attrs...)
		}
	}
}

// Ready returns a channel closed once Run has wired every component
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Shutdown performs graceful shutdown of all components
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancelCtx
	kp, backend := s.keypad, s.lines
	controlHandler, healthServer := s.controlHandler, s.healthServer
	s.mu.Unlock()

	slog.Info("shutting down keypad service")

	if cancel != nil {
		cancel()
	}

	// 1. Stop the keypad: no scan in flight, blocked reader woken
	if kp != nil {
		if err := kp.Close(); err != nil {
			slog.Error("failed to close keypad", "error", err)
		}
	}

	// 2. Stop control plane
	if controlHandler != nil {
		if err := controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 3. Stop health server
	if healthServer != nil {
		if err := healthServer.Shutdown(ctx); err != nil {
			slog.Error("failed to stop health server", "error", err)
		}
	}

	// 4. Wait for goroutines (bounded by ctx)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("all goroutines finished")
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out waiting for goroutines: %w", ctx.Err())
	}

	s.bus.Close()

	// 5. Disconnect MQTT
	if s.emitter != nil {
		if err := s.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	// 6. Release lines
	if backend != nil {
		if err := backend.Close(); err != nil {
			slog.Error("failed to close lines", "error", err)
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("keypad service shutdown complete", "uptime", uptime)
	return nil
}

func (s *Service) markStopped() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

// Bus returns the event bus. Extra sinks subscribe before Run.
func (s *Service) Bus() eventbus.Bus {
	return s.bus
}

// Keypad returns the keypad, nil until Run has built it
func (s *Service) Keypad() matrixkeypad.Keypad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keypad
}

// Lines returns the lines backend, nil until Run has opened it
func (s *Service) Lines() lines.Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lines
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// Config returns the validated configuration
func (s *Service) Config() *config.Config {
	return s.cfg
}
