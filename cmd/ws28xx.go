package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/womat/debug"

	"ws28xx/pkg/app"
	"ws28xx/pkg/app/config"
)

const defaultConfigFile = "/opt/womat/config/" + app.MODULE + ".yaml"

func main() {
	exitCode := 1
	defer func() {
		os.Exit(exitCode)
	}()

	// cfg holds the application configuration
	cfg := config.NewConfig()

	cliApp := &cli.App{
		Name:    app.MODULE,
		Usage:   "Weather station daemon for LaCrosse WS-28xx consoles",
		Version: app.VERSION,
		Description: "Read current weather and history records of a LaCrosse WS-28xx (C86234) console" +
			"\n over the USB radio transceiver and write the records to mqtt." +
			"\n The records are also served by the web api.",
		UsageText: "ws28xx [--config <file>] [--log standard|debug|trace] [pair]" +
			"\n\nEXAMPLE:" +
			"\n\tstart the daemon and use the configuration file ws28xx.yaml" +
			"\n\t\tws28xx --config /opt/womat/ws28xx.yaml" +
			"\n\tpair a console once, press SET on the console after starting" +
			"\n\t\tws28xx --config /opt/womat/ws28xx.yaml pair",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Destination: &cfg.Flag.ConfigFile, Value: defaultConfigFile, Usage: "load configuration from `FILE`"},
			&cli.StringFlag{Name: "log", Aliases: []string{"l"}, Destination: &cfg.Flag.Debug, Value: "", Usage: "`LEVEL` defines the log level (standard|debug|trace)"},
		},
		Action: func(ctx *cli.Context) error {
			return withApp(cfg, func(a *app.App) error {
				debug.InfoLog.Printf("starting app %s", app.Version())
				if err := a.Run(); err != nil {
					return err
				}

				// capture exit signals to ensure resources are released on exit.
				quit := make(chan os.Signal, 1)
				signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
				defer signal.Stop(quit)

				// wait for am os.Interrupt signal (CTRL C)
				select {
				case sig := <-quit:
					debug.InfoLog.Printf("Got %s signal. Aborting...", sig)
				case <-a.Shutdown():
				}
				return nil
			})
		},
		Commands: []*cli.Command{
			{
				Name:  "pair",
				Usage: "pair a console with the transceiver and store its id",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Value: 3 * time.Minute, Usage: "give up after `DURATION`"},
				},
				Action: func(ctx *cli.Context) error {
					return withApp(cfg, func(a *app.App) error {
						c, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
						defer cancel()
						c, cancel = context.WithTimeout(c, ctx.Duration("timeout"))
						defer cancel()

						id, err := a.Pair(c)
						if err != nil {
							return fmt.Errorf("pairing failed: %w", err)
						}
						fmt.Printf("paired with console %04x\n", id)
						return nil
					})
				},
			},
		},
	}

	// we expect to have more command line flags in the future - sort them
	sort.Sort(cli.FlagsByName(cliApp.Flags))
	sort.Sort(cli.CommandsByName(cliApp.Commands))

	err := cliApp.Run(os.Args)
	if err != nil {
		debug.FatalLog.Print(err)
		exitCode = 1
		return
	}

	exitCode = 0
}

// withApp loads the configuration, sets up logging and runs f on a new app.
func withApp(cfg *config.Config, f func(a *app.App) error) error {
	if err := cfg.LoadConfig(); err != nil {
		return err
	}

	debug.SetDebug(cfg.Debug.File, cfg.Debug.Flag)
	defer func() {
		debug.InfoLog.Printf("closing debug file %s", cfg.Debug.FileString)
		_ = cfg.Debug.File.Close()
	}()

	a, err := app.New(cfg)
	defer func() {
		debug.InfoLog.Printf("closing app %s", app.Version())
		_ = a.Close()
	}()
	if err != nil {
		return err
	}

	return f(a)
}
