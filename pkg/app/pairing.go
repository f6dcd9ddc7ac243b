package app

import (
	"context"
	"errors"
	"time"

	"github.com/womat/debug"

	"ws28xx/pkg/datastore"
	"ws28xx/pkg/frame"
	"ws28xx/pkg/statestore"
)

// ErrPairingBusy is returned while another pairing is running.
var ErrPairingBusy = errors.New("pairing in progress")

// pair registers a console with the dongle and stores its ID.
func (app *App) pair(ctx context.Context) (uint16, error) {
	if !app.pairing.CompareAndSwap(false, true) {
		return 0, ErrPairingBusy
	}
	defer app.pairing.Store(false)

	opts := app.config.Radio.Session
	timeout := opts.Preamble + opts.PairingTimeout + 10*time.Second

	debug.InfoLog.Print("pairing started")
	id, err := app.store.FirstTimeConfig(ctx, timeout)
	if err != nil {
		debug.ErrorLog.Printf("pairing: %v", err)
		return 0, err
	}

	app.storeConsole(id)
	debug.InfoLog.Printf("paired with console %04x", id)
	return id, nil
}

// storeConsole persists the paired console. The history progress of a
// previously paired console is dropped.
func (app *App) storeConsole(id uint16) {
	if old, ok, err := app.state.ID(statestore.KeyDeviceID); err == nil && ok && old != id {
		debug.InfoLog.Printf("console %04x replaces %04x, history starts over", id, old)
		if err := app.state.Delete(statestore.KeyLastHistoryIndex); err != nil {
			debug.ErrorLog.Printf("pairing: %v", err)
		}
		app.store.SetLastHistoryIndex(frame.NoIndex)
	}

	if err := app.state.SetID(statestore.KeyDeviceID, id); err != nil {
		debug.ErrorLog.Printf("pairing: %v", err)
	}
}

// Pair is the one-shot form of pairing: it brings up the transceiver, pairs
// a console, stores its ID and stops the radio again.
func (app *App) Pair(ctx context.Context) (uint16, error) {
	if err := app.openState(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		app.supervise(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	for !app.store.TransceiverPresent() {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-app.clock.After(100 * time.Millisecond):
		}
	}
	return app.pair(ctx)
}

// watchButton starts a pairing for every press of the pairing button.
func (app *App) watchButton(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-app.button.C:
			debug.InfoLog.Print("pairing button pressed")
			go func() {
				if _, err := app.pair(ctx); errors.Is(err, ErrPairingBusy) {
					debug.InfoLog.Print("pairing button ignored, pairing in progress")
				}
			}()
		}
	}
}

// isTimeout reports whether err is one of the request time outs.
func isTimeout(err error) bool {
	return errors.Is(err, datastore.ErrRequestTimeout) || errors.Is(err, datastore.ErrPairingTimeout)
}
