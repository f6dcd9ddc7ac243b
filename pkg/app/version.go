package app

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/womat/debug"
)

// VERSION holds the version information with the following logic in mind
//  1 ... fixed
//  6 ... year 2026, 7->year 2027, etc.
//  10 .. month of year (10=October)
//  the date format after the + is always the first of the month
//
// VERSION differs from semantic versioning as described in https://semver.org/
// but we keep the correct syntax.
const (
	VERSION = "1.6.10+20261001"
	MODULE  = "ws28xx"
)

// HARDWARE names the consoles the driver talks to.
const HARDWARE = "LaCrosse WS-28xx (C86234)"

// HandleVersion is the get application version web handler.
// Besides the version it reports the console family and the configured radio band.
func (app *App) HandleVersion() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request version")

		return ctx.JSON(fiber.Map{
			"version":     VERSION,
			"description": MODULE,
			"about":       Version(),
			"hardware":    HARDWARE,
			"band":        strings.ToUpper(string(app.config.Radio.Session.Band)),
		})
	}
}

// Version is the get application version as string, e.g. "ws28xx V1.6.10".
func Version() string {
	v, _, _ := strings.Cut(VERSION, "+")
	return MODULE + " V" + v
}
