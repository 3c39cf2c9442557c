package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-keypad/internal/config"
	"github.com/e7canasta/orion-keypad/internal/lines"
	"github.com/e7canasta/orion-keypad/modules/eventbus"
	"github.com/e7canasta/orion-keypad/modules/matrixkeypad"
)

const simConfig = `
instance_id: test-panel
keypad:
  settle_delay_ms: 1
  wakeup_source: true
  keymap: ["123A", "456B", "789C", "*0#D"]
lines:
  driver: sim
  row_gpios: ["0", "1", "2", "3"]
  col_gpios: ["4", "5", "6", "7"]
`

// runService starts a sim-backed service and returns it with its simulated
// matrix and a channel subscribed to the event bus.
func runService(t *testing.T) (*Service, *lines.Sim, <-chan eventbus.Event) {
	t.Helper()

	cfg, err := config.Parse([]byte(simConfig), "yaml")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	s := NewService(cfg)

	events := make(chan eventbus.Event, 8)
	if err := s.bus.Subscribe("test", events); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case err := <-errCh:
		t.Fatalf("Run failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("service not ready")
	}

	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		if err := s.Shutdown(shutdownCtx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	})

	sim, ok := s.lines.(*lines.Sim)
	if !ok {
		t.Fatalf("lines backend = %T, want *lines.Sim", s.lines)
	}
	return s, sim, events
}

func nextEvent(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event on bus")
		return eventbus.Event{}
	}
}

func TestService_PressReachesBus(t *testing.T) {
	_, sim, events := runService(t)

	sim.Press(1, 2)

	ev := nextEvent(t, events)
	if ev.Key.Row != 1 || ev.Key.Col != 2 || ev.Key.Symbol != '6' {
		t.Errorf("event = %+v, want '6' at (1,2)", ev.Key)
	}
	if ev.Source != "test-panel" {
		t.Errorf("Source = %q, want test-panel", ev.Source)
	}
	if ev.ReadAt.IsZero() {
		t.Error("ReadAt not set")
	}
}

func TestService_SuspendResume(t *testing.T) {
	s, sim, events := runService(t)

	if err := s.Suspend(); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if !sim.Wake(0) {
		t.Error("row 0 not armed for wake")
	}
	if got := s.HealthCheck(); got.Status != "healthy" || !got.Suspended {
		t.Errorf("health while suspended = %+v", got)
	}

	sim.Press(0, 0)
	select {
	case ev := <-events:
		t.Fatalf("event while suspended: %+v", ev.Key)
	case <-time.After(20 * time.Millisecond):
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	// Wait for the resync scan: the key held across resume is baseline
	deadline := time.Now().Add(time.Second)
	for s.keypad.State() != matrixkeypad.StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("keypad state = %v after resume", s.keypad.State())
		}
		time.Sleep(time.Millisecond)
	}

	sim.Press(3, 3)
	ev := nextEvent(t, events)
	if ev.Key.Symbol != 'D' {
		t.Errorf("event symbol = %q, want 'D'", ev.Key.Symbol)
	}
}

func TestService_StopDegradesHealth(t *testing.T) {
	s, _, _ := runService(t)

	if err := s.stopKeypad(); err != nil {
		t.Fatalf("stopKeypad failed: %v", err)
	}
	if got := s.HealthCheck(); got.Status != "degraded" || got.KeypadState != "stopped" {
		t.Errorf("health = %+v, want degraded/stopped", got)
	}

	if err := s.startKeypad(); err != nil {
		t.Fatalf("startKeypad failed: %v", err)
	}
	if got := s.HealthCheck().Status; got != "healthy" {
		t.Errorf("health after start = %q, want healthy", got)
	}
}

func TestService_HTTPEndpoints(t *testing.T) {
	s, sim, events := runService(t)

	sim.Press(2, 1)
	nextEvent(t, events)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readiness")
	if err != nil {
		t.Fatalf("GET /readiness: %v", err)
	}
	var health HealthStatus
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || health.Status != "healthy" {
		t.Errorf("/readiness = %d %+v", resp.StatusCode, health)
	}

	resp, err = http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	var stats map[string]any
	json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()

	if stats["instance_id"] != "test-panel" {
		t.Errorf("/stats instance_id = %v", stats["instance_id"])
	}
	keypad, _ := stats["keypad"].(map[string]any)
	if keypad["events_posted"] != float64(1) {
		t.Errorf("/stats keypad = %v, want events_posted 1", keypad)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d", resp.StatusCode)
	}
}

func TestService_Snapshot(t *testing.T) {
	s, sim, events := runService(t)

	sim.Press(2, 1)
	nextEvent(t, events)

	snap := s.getSnapshot()
	pressed, _ := snap["pressed"].([][]int)
	if len(pressed) != 1 || pressed[0][0] != 2 || pressed[0][1] != 1 {
		t.Errorf("pressed = %v, want [[2 1]]", pressed)
	}
}

func TestService_UnhealthyBeforeRun(t *testing.T) {
	cfg, _ := config.Parse([]byte(simConfig), "yaml")
	s := NewService(cfg)

	if got := s.HealthCheck().Status; got != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", got)
	}
	if err := s.Suspend(); err == nil {
		t.Error("Suspend before Run succeeded")
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown before Run: %v", err)
	}
}

func TestService_ShutdownViaControl(t *testing.T) {
	cfg, _ := config.Parse([]byte(simConfig), "yaml")
	s := NewService(cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	<-s.Ready()

	if err := s.shutdownViaControl(); err != nil {
		t.Fatalf("shutdownViaControl failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after shutdown command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestService_HealthDuringStartup(t *testing.T) {
	cfg, _ := config.Parse([]byte(simConfig), "yaml")
	s := NewService(cfg)

	// Health server comes up before Run, as in keypadd
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var wg sync.WaitGroup
	codes := make(chan int, 100)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				resp, err := http.Get(srv.URL + "/health")
				if err != nil {
					codes <- 0
					continue
				}
				resp.Body.Close()
				codes <- resp.StatusCode
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	wg.Wait()
	close(codes)
	for code := range codes {
		if code != http.StatusOK {
			t.Errorf("/health = %d, want 200", code)
		}
	}

	select {
	case <-s.Ready():
	case err := <-errCh:
		t.Fatalf("Run failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("service not ready")
	}

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body["status"] != "alive" {
		t.Errorf("/health status = %v, want alive", body["status"])
	}
	if uptime, _ := body["uptime"].(float64); uptime < 0 {
		t.Errorf("/health uptime = %v, want >= 0", uptime)
	}

	cancel()
	<-errCh
	shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
