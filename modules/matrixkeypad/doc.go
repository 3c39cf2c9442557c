/*
Package matrixkeypad turns a row × column switch matrix into a stream of
discrete switch events for a single consumer.

# Pipeline

	row edge ──► signal()          mask all rows, state=ScanPending,
	                               queue scan after SettleDelay
	            runScan()          state=Scanning
	              scanMatrix()     one column at a time: drive, settle,
	                               read rows, release
	              Detect()         next XOR previous, press transitions
	              mailbox.post()   most recent event wins
	                               unmask all rows, state=Idle
	consumer ──► Read()/TryRead()/Poll()

A signal that arrives while a scan is pending or running, or while the keypad
is stopped, is dropped. The scan itself decides when rows are re-armed, so
contact bounce during the scan never schedules a second scan.

# Basic Usage

	kp, err := matrixkeypad.New(lines, matrixkeypad.Config{
	    Rows:         4,
	    Cols:         4,
	    Debounce:     10 * time.Millisecond,
	    ColumnSettle: 5 * time.Microsecond,
	    Keymap: [][]rune{
	        {'1', '2', '3', 'A'},
	        {'4', '5', '6', 'B'},
	        {'7', '8', '9', 'C'},
	        {'*', '0', '#', 'D'},
	    },
	})
	if err != nil {
	    return err
	}
	defer kp.Close()

	for {
	    ev, err := kp.Read(ctx)
	    if err != nil {
	        return err
	    }
	    fmt.Printf("pressed %c at (%d,%d)\n", ev.Symbol, ev.Row, ev.Col)
	}

# Multiplexing

Poll returns a channel that is closed on the next event:

	for {
	    readyA, chA := a.Poll()
	    readyB, chB := b.Poll()
	    if !readyA && !readyB {
	        select {
	        case <-chA:
	        case <-chB:
	        case <-ctx.Done():
	            return ctx.Err()
	        }
	    }
	    if ev, err := a.TryRead(); err == nil {
	        handleA(ev)
	    }
	    if ev, err := b.TryRead(); err == nil {
	        handleB(ev)
	    }
	}

# Power Transitions

Stop and Start (or Suspend and Resume) may be called from any goroutine. Stop
is synchronous: a pending scan is cancelled and a running one is awaited.
Start schedules a resync scan whose result becomes the baseline, so switches
held across the stopped interval do not produce press events.

# Thread Safety

One mutex guards the controller state, the retained snapshot and the mailbox.
The signal path holds it only to flip flags, mask rows and start a timer. The
scan reads hardware outside the lock.
*/
package matrixkeypad
