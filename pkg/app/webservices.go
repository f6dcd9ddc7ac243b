package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/womat/debug"

	"ws28xx/pkg/datastore"
	"ws28xx/pkg/station"
)

// data is the answer of the data web service.
type data struct {
	Transceiver bool                 `json:"transceiver"`
	DeviceID    string               `json:"device_id,omitempty"`
	Link        datastore.LinkStatus `json:"link"`
	Outstanding int                  `json:"history_outstanding"`
	Current     *station.Observation `json:"current,omitempty"`
	History     *station.Observation `json:"history,omitempty"`
}

// runWebServer starts the applications web server and listens for web requests.
//  It's designed to run in a separate go function to not block the main go function.
//  e.g.: go runWebServer()
//  See app.Run()
func (app *App) runWebServer() {
	err := app.web.Listen(app.urlParsed.Host)
	debug.ErrorLog.Print(err)
}

// HandleData returns the latest observations and the radio link status.
func (app *App) HandleData() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request data")

		d := data{
			Transceiver: app.store.TransceiverPresent(),
			Link:        app.store.Link(),
			Outstanding: app.store.History().Outstanding,
		}
		if id, ok := app.store.DeviceID(); ok {
			d.DeviceID = fmt.Sprintf("%04x", id)
		}

		app.latest.RLock()
		d.Current, d.History = app.latest.current, app.latest.history
		app.latest.RUnlock()

		return ctx.JSON(d)
	}
}

// HandlePair pairs a console. The request blocks until the console answered or the pairing timed out.
func (app *App) HandlePair() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request pair")

		id, err := app.pair(app.ctx)
		if err != nil {
			return requestError(ctx, err)
		}
		return ctx.JSON(fiber.Map{"device_id": fmt.Sprintf("%04x", id)})
	}
}

// HandleTime sets the console clock.
func (app *App) HandleTime() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request time")

		if err := app.store.SetTime(app.ctx); err != nil {
			return requestError(ctx, err)
		}
		return ctx.JSON(fiber.Map{"time": app.clock.Now().In(app.config.Radio.Session.Location)})
	}
}

func requestError(ctx *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, datastore.ErrNoTransceiver), errors.Is(err, datastore.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrPairingBusy):
		status = http.StatusConflict
	case isTimeout(err):
		status = http.StatusGatewayTimeout
	}

	ctx.Status(status)
	return ctx.JSON(fiber.Map{"error": err.Error()})
}
