package app

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/womat/debug"

	"ws28xx/pkg/app/config"
	"ws28xx/pkg/datastore"
	"ws28xx/pkg/mqtt"
	"ws28xx/pkg/raspberry"
	"ws28xx/pkg/station"
	"ws28xx/pkg/statestore"
	"ws28xx/pkg/transceiver"
)

// App is the main application struct.
// App is where the application is wired up.
type App struct {
	// web is the fiber web framework instance
	web *fiber.App

	// config is the application configuration
	config *config.Config

	// urlParsed contains the parsed Config.Url parameter
	// and makes it easier to get params out of e.g.
	// url: https://0.0.0.0:7844/?minTls=1.2&bodyLimit=50MB
	urlParsed *url.URL

	// mqtt is the handler to the mqtt broker
	mqtt *mqtt.Handler

	// button is the pairing button, nil if not configured
	button *raspberry.Button

	// state persists ids and history progress across restarts
	state *statestore.Store

	clock clockwork.Clock
	// store is shared between the radio session and the request callers
	store   *datastore.Store
	station *station.Station

	// openTransceiver opens the usb host and the dongle, release frees both
	openTransceiver func(ctx context.Context) (tx transceiver.Transceiver, release func(), err error)

	// latest holds the last observation of each kind for the web api
	latest struct {
		sync.RWMutex
		current *station.Observation
		history *station.Observation
	}
	pairing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// restart signals application restart
	restart chan struct{}
	// shutdown signals application shutdown
	shutdown chan struct{}
}

// New checks the Web server URL and initialize the main app structure
func New(config *config.Config) (*App, error) {
	u, err := url.Parse(config.Webserver.URL)
	if err != nil {
		debug.ErrorLog.Printf("Error parsing url %q: %s", config.Webserver.URL, err.Error())
		return &App{}, err
	}

	clock := clockwork.NewRealClock()
	store := datastore.New(clock, config.Station.Requests)
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		config:    config,
		urlParsed: u,

		web:   fiber.New(),
		mqtt:  mqtt.New(),
		clock: clock,
		store: store,

		station:         station.New(store, clock, config.Station.Poll),
		openTransceiver: openUSB(config.USB.Timeout),

		ctx:      ctx,
		cancel:   cancel,
		restart:  make(chan struct{}),
		shutdown: make(chan struct{}),
	}, err
}

// Run starts the application.
func (app *App) Run() error {
	if err := app.init(); err != nil {
		return err
	}

	go app.mqtt.Service()
	go app.runWebServer()

	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		app.supervise(app.ctx)
	}()
	go func() {
		defer app.wg.Done()
		app.publish(app.ctx)
	}()

	if app.button != nil {
		go app.watchButton(app.ctx)
	}
	return nil
}

// init initializes the application.
func (app *App) init() (err error) {
	if err = app.openState(); err != nil {
		return err
	}

	if err = app.mqtt.Connect(app.config.MQTT.Connection, app.config.MQTT.ClientID); err != nil {
		debug.ErrorLog.Printf("can't open mqtt broker %v", err)
		return err
	}

	if app.config.Gpio.Line >= 0 {
		g := app.config.Gpio
		if app.button, err = raspberry.Open(g.Chip, g.Line, g.Terminator, g.BounceTime); err != nil {
			debug.ErrorLog.Printf("can't open pairing button on %s line %d: %v", g.Chip, g.Line, err)
			return err
		}
	}

	// initDefaultRoutes should be always called last because it may access things
	// which must be initialized before
	app.initDefaultRoutes()

	return nil
}

func (app *App) openState() (err error) {
	if app.state != nil {
		return nil
	}
	if app.state, err = statestore.Open(app.config.StateFile); err != nil {
		debug.ErrorLog.Printf("can't open state file %s: %v", app.config.StateFile, err)
	}
	return err
}

// Restart returns the read only restart channel.
// Restart is used to be able to react on application restart. (see cmd/main.go)
func (app *App) Restart() <-chan struct{} {
	return app.restart
}

// Shutdown returns the read only shutdown channel.
// Shutdown is used to be able to react on application shutdown. (see cmd/main.go)
func (app *App) Shutdown() <-chan struct{} {
	return app.shutdown
}

// Close stops the session and the publisher and releases all handles.
func (app *App) Close() error {
	if app.cancel == nil {
		return nil
	}

	app.cancel()
	app.store.Close()
	app.wg.Wait()

	if app.button != nil {
		_ = app.button.Close()
	}
	if app.mqtt != nil {
		_ = app.mqtt.Disconnect()
	}
	_ = app.web.Shutdown()
	return app.state.Close()
}
