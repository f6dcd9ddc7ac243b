package app

import (
	"context"
	"errors"

	"github.com/womat/debug"

	"ws28xx/pkg/datastore"
	"ws28xx/pkg/mqtt"
	"ws28xx/pkg/station"
	"ws28xx/pkg/statestore"
)

// publish waits in an endless loop for observations.
// It saves each observation for the web api, persists the progress and sends it to the mqtt broker.
func (app *App) publish(ctx context.Context) {
	for {
		o, err := app.station.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, datastore.ErrStopped) {
				return
			}
			debug.ErrorLog.Printf("observation: %v", err)
			continue
		}

		debug.DebugLog.Printf("observation %s at %s", o.Kind, o.Timestamp)
		app.setLatest(o)
		app.persist(o)

		topic := mqtt.Topic(app.config.MQTT.Topic, string(o.Kind))
		if err := app.mqtt.Send(topic, o, o.Kind == station.KindCurrent); err != nil {
			debug.ErrorLog.Printf("sendMQTT: %v", err)
		}
	}
}

func (app *App) setLatest(o station.Observation) {
	app.latest.Lock()
	defer app.latest.Unlock()

	switch o.Kind {
	case station.KindCurrent:
		app.latest.current = &o
	case station.KindHistory:
		app.latest.history = &o
	}
}

// persist records when the console was last heard and the last history slot handed out.
func (app *App) persist(o station.Observation) {
	var err error
	switch o.Kind {
	case station.KindCurrent:
		err = app.state.SetTime(statestore.KeyLastSeen, app.store.Link().LastSeen)
	case station.KindHistory:
		err = app.state.SetInt(statestore.KeyLastHistoryIndex, int64(o.History.Index))
	}

	if err != nil {
		debug.ErrorLog.Printf("persist state: %v", err)
	}
}
