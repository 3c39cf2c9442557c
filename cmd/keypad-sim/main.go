// Command keypad-sim runs the keypad service on a simulated switch matrix and
// drives it from the terminal.
//
// Typing a key that appears in the keymap toggles its switch (terminals do
// not report key releases). Space opens every switch, Tab stops/starts the
// keypad, Esc quits. Events are drawn from a latest-only "display" subscriber
// on the service's event bus, next to the log and MQTT sinks.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"

	"github.com/e7canasta/orion-keypad/internal/config"
	"github.com/e7canasta/orion-keypad/internal/core"
	"github.com/e7canasta/orion-keypad/internal/lines"
	"github.com/e7canasta/orion-keypad/modules/eventbus"
	"github.com/e7canasta/orion-keypad/modules/matrixkeypad"
)

const maxHistory = 10

type app struct {
	screen  tcell.Screen
	svc     *core.Service
	sim     *lines.Sim
	kp      matrixkeypad.Keypad
	display eventbus.Receiver
	keymap  [][]rune

	mu      sync.Mutex
	history []string
}

func main() {
	configPath := flag.String("config", "", "Configuration file using the sim driver (overrides the flags below)")
	keymapFlag := flag.String("keymap", "123A,456B,789C,*0#D", "Comma-separated keymap rows")
	settle := flag.Duration("settle", matrixkeypad.DefaultSettleDelay, "Signal-to-scan settle delay")
	colDelay := flag.Duration("col-delay", 0, "Per-column scan settle delay")
	releases := flag.Bool("releases", false, "Report release events")
	logPath := flag.String("log", "", "Write debug log to this file")
	flag.Parse()

	var logOut io.Writer = io.Discard
	if *logPath != "" {
		f, err := os.Create(*logPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug})))

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = loadConfig(*configPath)
	} else {
		var keymap []string
		keymap, err = parseKeymap(*keymapFlag)
		if err == nil {
			cfg, err = simConfig(keymap, *settle, *colDelay, *releases)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run starts the service, runs the terminal loop until Esc and shuts the
// service down.
func run(cfg *config.Config) error {
	svc := core.NewService(cfg)

	display, err := svc.Bus().SubscribeLatest("display")
	if err != nil {
		return fmt.Errorf("subscribe display: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	select {
	case <-svc.Ready():
	case err := <-errCh:
		return fmt.Errorf("keypad service: %w", err)
	}

	defer func() {
		cancel()
		<-errCh
		shutdownCtx, done := context.WithTimeout(context.Background(), svc.ShutdownTimeout())
		defer done()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	sim, ok := svc.Lines().(*lines.Sim)
	if !ok {
		return fmt.Errorf("lines backend is %T, want the sim driver", svc.Lines())
	}

	if cfg.Health.Enabled {
		if err := svc.StartHealthServer(cfg.Health.Port); err != nil {
			return err
		}
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()

	a := &app{
		screen:  screen,
		svc:     svc,
		sim:     sim,
		kp:      svc.Keypad(),
		display: display,
		keymap:  cfg.Keypad.KeymapRunes(),
	}

	go a.readEvents(ctx)

	a.loop()
	return nil
}

// loadConfig reads a configuration file and checks it can drive the simulator
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Lines.Driver != "sim" {
		return nil, fmt.Errorf("%s: driver %q, keypad-sim needs the sim driver", path, cfg.Lines.Driver)
	}
	if len(cfg.Keypad.Keymap) == 0 {
		return nil, fmt.Errorf("%s: keypad-sim needs a keymap", path)
	}
	return cfg, nil
}

// simConfig builds a sim-driver configuration sized by the keymap
func simConfig(keymap []string, settle, colDelay time.Duration, releases bool) (*config.Config, error) {
	cfg := &config.Config{
		InstanceID: "keypad-sim",
		Keypad: config.KeypadConfig{
			SettleDelayMS:  int(settle / time.Millisecond),
			ColScanDelayUS: int(colDelay / time.Microsecond),
			ReportReleases: releases,
			Keymap:         keymap,
		},
		Lines: config.LinesConfig{
			Driver:   "sim",
			RowGPIOs: lineNames("row", len(keymap)),
			ColGPIOs: lineNames("col", utf8.RuneCountInString(keymap[0])),
		},
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func lineNames(prefix string, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return names
}

// parseKeymap splits "123A,456B" into rows; every row must have the same
// number of keys.
func parseKeymap(s string) ([]string, error) {
	var keymap []string
	for _, row := range strings.Split(s, ",") {
		n := utf8.RuneCountInString(row)
		if n == 0 {
			return nil, fmt.Errorf("keymap: empty row")
		}
		if len(keymap) > 0 {
			if want := utf8.RuneCountInString(keymap[0]); n != want {
				return nil, fmt.Errorf("keymap: row %q has %d keys, want %d", row, n, want)
			}
		}
		keymap = append(keymap, row)
	}
	if len(keymap) > matrixkeypad.MaxRows {
		return nil, fmt.Errorf("keymap: %d rows (max %d)", len(keymap), matrixkeypad.MaxRows)
	}
	return keymap, nil
}

// findKey locates r in the keymap, ignoring letter case.
func findKey(keymap [][]rune, r rune) (row, col int, ok bool) {
	for i, keys := range keymap {
		for j, k := range keys {
			if k == r || unicode.ToUpper(k) == unicode.ToUpper(r) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// formatEvent renders one history line
func formatEvent(ev eventbus.Event) string {
	action := "press"
	if !ev.Key.Pressed {
		action = "release"
	}
	return fmt.Sprintf("#%-4d %-7s (%d,%d) %q  %s",
		ev.Key.Seq, action, ev.Key.Row, ev.Key.Col, ev.Key.Symbol, ev.ReadAt.Format("15:04:05.000"))
}

func (a *app) readEvents(ctx context.Context) {
	for {
		ev, err := a.display.Receive(ctx)
		if err != nil {
			return
		}

		a.mu.Lock()
		a.history = append([]string{formatEvent(ev)}, a.history...)
		if len(a.history) > maxHistory {
			a.history = a.history[:maxHistory]
		}
		a.mu.Unlock()

		_ = a.screen.PostEvent(tcell.NewEventInterrupt(nil)) // redraw; queue may be full
	}
}

func (a *app) loop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			_ = a.screen.PostEvent(tcell.NewEventInterrupt(nil))
		}
	}()

	for {
		a.draw()

		switch ev := a.screen.PollEvent().(type) {
		case *tcell.EventResize:
			a.screen.Sync()

		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				return
			case tcell.KeyTab:
				if a.kp.State() == matrixkeypad.StateStopped {
					a.kp.Start()
				} else {
					a.kp.Stop()
				}
			case tcell.KeyRune:
				if ev.Rune() == ' ' {
					a.releaseAll()
					continue
				}
				if row, col, ok := findKey(a.keymap, ev.Rune()); ok {
					a.sim.Set(row, col, !a.sim.Pressed(row, col))
				}
			}
		}
	}
}

func (a *app) releaseAll() {
	for row := range a.keymap {
		for col := range a.keymap[row] {
			a.sim.Release(row, col)
		}
	}
}

func (a *app) draw() {
	s := a.screen
	s.Clear()

	plain := tcell.StyleDefault
	bold := plain.Bold(true)
	pressed := plain.Reverse(true)

	drawText(s, 0, 0, bold, "matrix keypad simulator  "+a.svc.Config().InstanceID)

	for row, keys := range a.keymap {
		for col, k := range keys {
			style := plain
			if a.sim.Pressed(row, col) {
				style = pressed
			}
			drawText(s, 2+col*6, 2+row*2, style, fmt.Sprintf("[ %c ]", k))
		}
	}

	y := 3 + len(a.keymap)*2
	st := a.kp.Stats()
	bs := a.svc.Bus().Stats()
	drawText(s, 0, y, bold, fmt.Sprintf("state: %s   health: %s", st.State, a.svc.HealthCheck().Status))
	drawText(s, 0, y+1, plain, fmt.Sprintf("signals %d (dropped %d)  scans %d (aborted %d)  events %d (overwritten %d, taken %d)",
		st.Signals, st.SignalsDropped, st.Scans, st.ScansAborted, st.EventsPosted, st.EventsOverwritten, st.EventsTaken))
	drawText(s, 0, y+2, plain, fmt.Sprintf("bus published %d  display drop rate %.2f",
		bs.TotalPublished, eventbus.SubscriberDropRate(bs, "display")))

	a.mu.Lock()
	for i, line := range a.history {
		drawText(s, 0, y+4+i, plain, line)
	}
	a.mu.Unlock()

	drawText(s, 0, y+5+maxHistory, plain, "keys: toggle switch   space: release all   tab: stop/start   esc: quit")

	s.Show()
}

func drawText(s tcell.Screen, x, y int, style tcell.Style, text string) {
	for _, r := range text {
		s.SetContent(x, y, r, nil, style)
		x++
	}
}
