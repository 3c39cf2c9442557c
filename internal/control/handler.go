package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tidwall/gjson"

	"github.com/e7canasta/orion-keypad/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string `json:"command"`
	Raw     []byte `json:"-"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus   func() map[string]any
	OnGetSnapshot func() map[string]any
	OnStart       func() error
	OnStop        func() error
	OnSuspend     func() error
	OnResume      func() error
	OnShutdown    func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks

	mu      sync.Mutex // guards commands against close in Stop
	stopped bool

	// publish sends an encoded response; replaced in tests
	publish func(payload []byte) error
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	h := &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
	h.publish = h.publishMQTT
	return h
}

// Start subscribes to the control topic and starts processing commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)

	return nil
}

// Stop unsubscribes from the control topic
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
		token.WaitTimeout(2 * time.Second)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.commands)

	slog.Info("control plane handler stopped")
	return nil
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	h.enqueue(msg.Payload())
}

// enqueue parses payload and queues the command without blocking
func (h *Handler) enqueue(payload []byte) {
	cmd, err := ParseCommand(payload)
	if err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      err.Error(),
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		slog.Warn("control plane stopped, dropping command", "command", cmd.Command)
		return
	}

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// ParseCommand extracts the command name from a JSON payload
func ParseCommand(payload []byte) (Command, error) {
	if !gjson.ValidBytes(payload) {
		return Command{}, fmt.Errorf("invalid JSON")
	}

	name := gjson.GetBytes(payload, "command")
	if name.Type != gjson.String || name.Str == "" {
		return Command{}, fmt.Errorf("missing 'command' field")
	}

	return Command{Command: name.Str, Raw: payload}, nil
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

// lifecycle runs a keypad lifecycle callback and fills resp
func lifecycle(resp *Response, name string, fn func() error, state string) {
	if fn == nil {
		resp.Status = "error"
		resp.Error = name + " not implemented"
		return
	}
	if err := fn(); err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return
	}
	resp.Status = "success"
	resp.Data = map[string]any{"state": state}
}

func (h *Handler) handleCommand(cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "get_snapshot":
		if h.callbacks.OnGetSnapshot != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetSnapshot()
		} else {
			resp.Status = "error"
			resp.Error = "get_snapshot not implemented"
		}

	case "start":
		lifecycle(&resp, "start", h.callbacks.OnStart, "running")

	case "stop":
		lifecycle(&resp, "stop", h.callbacks.OnStop, "stopped")

	case "suspend":
		lifecycle(&resp, "suspend", h.callbacks.OnSuspend, "suspended")

	case "resume":
		lifecycle(&resp, "resume", h.callbacks.OnResume, "running")

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
			break
		}

		slog.Warn("shutdown command received via MQTT control plane")
		resp.Status = "success"
		resp.Data = map[string]any{"shutdown_initiated": true}
		// Response goes out before shutdown tears the client down
		h.sendResponse(resp)

		go func() {
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	if err := h.publish(payload); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func (h *Handler) publishMQTT(payload []byte) error {
	token := h.client.Publish(h.cfg.MQTT.Topics.Health, h.cfg.MQTT.QoS["health"], false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("response publish timeout")
	}
	return token.Error()
}
