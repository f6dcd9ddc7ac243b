package app

import (
	"context"
	"time"

	"github.com/womat/debug"

	"ws28xx/pkg/frame"
	"ws28xx/pkg/session"
	"ws28xx/pkg/statestore"
	"ws28xx/pkg/transceiver"
)

// openUSB returns the opener of the usbfs host and the dongle.
func openUSB(timeout time.Duration) func(ctx context.Context) (transceiver.Transceiver, func(), error) {
	return func(ctx context.Context) (transceiver.Transceiver, func(), error) {
		h, err := transceiver.NewHost(ctx, timeout)
		if err != nil {
			return nil, nil, err
		}

		tx, err := transceiver.Open(ctx, h, timeout)
		if err != nil {
			_ = h.Stop()
			_ = h.Close()
			return nil, nil, err
		}

		return tx, func() {
			_ = tx.Close()
			_ = h.Stop()
			_ = h.Close()
		}, nil
	}
}

// supervise runs radio sessions until ctx is done. After a failure the
// transceiver is opened and brought up again from scratch, the back-off
// doubles with every failure in a row.
func (app *App) supervise(ctx context.Context) {
	wait := app.config.USB.Retry

	for {
		started := app.clock.Now()
		err := app.runSession(ctx)
		if ctx.Err() != nil {
			debug.InfoLog.Print("radio session stopped")
			return
		}

		// a session that ran for a while resets the back-off
		if app.clock.Now().Sub(started) > app.config.USB.RetryMax {
			wait = app.config.USB.Retry
		}
		debug.ErrorLog.Printf("radio session: %v, retry in %v", err, wait)

		select {
		case <-ctx.Done():
			return
		case <-app.clock.After(wait):
		}

		if wait *= 2; wait > app.config.USB.RetryMax {
			wait = app.config.USB.RetryMax
		}
	}
}

// runSession opens the transceiver, brings up the radio and runs the session loop.
func (app *App) runSession(ctx context.Context) error {
	tx, release, err := app.openTransceiver(ctx)
	if err != nil {
		return err
	}
	defer release()

	s := session.New(tx, app.store, app.clock, app.config.Radio.Session)
	if err := s.Init(); err != nil {
		return err
	}
	app.restoreState()

	debug.InfoLog.Printf("radio session started on %s band", app.config.Radio.Session.Band)
	return s.Run(ctx)
}

// restoreState hands the persisted pairing and history progress to the store
// and records the dongle. The in-memory values win after a session restart.
func (app *App) restoreState() {
	if _, ok := app.store.DeviceID(); !ok {
		if id, ok, err := app.state.ID(statestore.KeyDeviceID); err != nil {
			debug.ErrorLog.Printf("restore device id: %v", err)
		} else if ok {
			app.store.SetDeviceID(id)
			debug.InfoLog.Printf("console %04x restored", id)
		}
	}

	if app.store.History().LastIndex == frame.NoIndex {
		if idx, ok, err := app.state.Int(statestore.KeyLastHistoryIndex); err != nil {
			debug.ErrorLog.Printf("restore history index: %v", err)
		} else if ok && idx >= 0 && idx < frame.HistoryCapacity {
			app.store.SetLastHistoryIndex(int(idx))
		}
	}

	if seen, ok, err := app.state.Time(statestore.KeyLastSeen); err != nil {
		debug.ErrorLog.Printf("restore last seen: %v", err)
	} else if ok {
		app.store.RestoreLastSeen(seen)
	}

	if err := app.state.SetID(statestore.KeyTransceiverID, app.store.TransceiverID()); err != nil {
		debug.ErrorLog.Print(err)
	}
	if err := app.state.Set(statestore.KeyFrequency, string(app.config.Radio.Session.Band)); err != nil {
		debug.ErrorLog.Print(err)
	}
}
