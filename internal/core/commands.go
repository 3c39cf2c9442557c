package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-keypad/modules/eventbus"
	"github.com/e7canasta/orion-keypad/modules/matrixkeypad"
)

// getStatus returns the current service status
func (s *Service) getStatus() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := map[string]any{
		"instance_id": s.cfg.InstanceID,
		"uptime_s":    time.Since(s.started).Seconds(),
		"running":     s.isRunning,
		"suspended":   s.suspended,
		"lines": map[string]any{
			"driver": s.cfg.Lines.Driver,
			"rows":   s.cfg.Rows(),
			"cols":   s.cfg.Cols(),
		},
	}

	if s.keypad != nil {
		st := s.keypad.Stats()
		status["keypad"] = map[string]any{
			"state":              st.State.String(),
			"signals":            st.Signals,
			"signals_dropped":    st.SignalsDropped,
			"scans":              st.Scans,
			"scans_aborted":      st.ScansAborted,
			"events_posted":      st.EventsPosted,
			"events_overwritten": st.EventsOverwritten,
			"events_taken":       st.EventsTaken,
		}
	}

	busStats := s.bus.Stats()
	status["eventbus"] = map[string]any{
		"published": busStats.TotalPublished,
		"sent":      busStats.TotalSent,
		"dropped":   busStats.TotalDropped,
		"drop_rate": eventbus.DropRate(busStats),
	}

	if s.emitter != nil {
		es := s.emitter.Stats()
		status["mqtt"] = map[string]any{
			"connected": es.Connected,
			"published": es.Published,
			"errors":    es.Errors,
		}
	}

	return status
}

// getSnapshot returns the retained matrix snapshot as a row-major grid of
// pressed keys
func (s *Service) getSnapshot() map[string]any {
	s.mu.RLock()
	kp := s.keypad
	s.mu.RUnlock()

	if kp == nil {
		return map[string]any{"columns": []uint32{}}
	}

	snap := kp.Snapshot()
	pressed := make([][]int, 0)
	for col, bits := range snap {
		for row := 0; row < s.cfg.Rows(); row++ {
			if bits&(1<<uint(row)) != 0 {
				pressed = append(pressed, []int{row, col})
			}
		}
	}

	return map[string]any{
		"columns": []uint32(snap),
		"pressed": pressed,
	}
}

func (s *Service) keypadOrErr() (matrixkeypad.Keypad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keypad == nil {
		return nil, fmt.Errorf("keypad not running")
	}
	return s.keypad, nil
}

func (s *Service) startKeypad() error {
	kp, err := s.keypadOrErr()
	if err != nil {
		return err
	}
	slog.Info("starting keypad via control plane")
	return kp.Start()
}

func (s *Service) stopKeypad() error {
	kp, err := s.keypadOrErr()
	if err != nil {
		return err
	}
	slog.Info("stopping keypad via control plane")
	return kp.Stop()
}

// Suspend stops scanning for a low-power transition (SIGUSR1 or MQTT)
func (s *Service) Suspend() error {
	kp, err := s.keypadOrErr()
	if err != nil {
		return err
	}
	if err := kp.Suspend(); err != nil {
		return fmt.Errorf("suspend failed: %w", err)
	}

	s.mu.Lock()
	s.suspended = true
	s.mu.Unlock()

	slog.Info("keypad suspended", "wakeup_source", s.cfg.Keypad.WakeupSource)
	return nil
}

// Resume restarts scanning after Suspend (SIGUSR2 or MQTT)
func (s *Service) Resume() error {
	kp, err := s.keypadOrErr()
	if err != nil {
		return err
	}
	if err := kp.Resume(); err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}

	s.mu.Lock()
	s.suspended = false
	s.mu.Unlock()

	slog.Info("keypad resumed")
	return nil
}

func (s *Service) shutdownViaControl() error {
	s.mu.RLock()
	cancel := s.cancelCtx
	s.mu.RUnlock()

	if cancel == nil {
		return fmt.Errorf("service not running")
	}
	cancel()
	return nil
}
