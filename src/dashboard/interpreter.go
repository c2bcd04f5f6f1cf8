// Package dashboard is the client end of the relay: it keeps a dashboard
// registered over the websocket, applies admin commands to local state and
// reports activity back to the server.
package dashboard

import (
	"errors"
	"fmt"
	"math"

	"github.com/orchestra-mcp/relay/src/command"
	"github.com/rs/zerolog"
)

// Events the interpreter reports through the uplink.
const (
	EventUnhandledCommand      = "unhandledCommand"
	EventInvalidCommandPayload = "invalidCommandPayload"
	EventScreenshot            = "screenshot"
	EventLogs                  = "logs"
)

type handler func(command.Payload)

// Interpreter applies admin commands to Effects. Commands are handled one at
// a time in arrival order.
type Interpreter struct {
	fx       Effects
	reporter Reporter
	logger   zerolog.Logger
	handlers map[command.Name]handler
}

// NewInterpreter builds the command table over fx. A nil reporter disables
// reporting.
func NewInterpreter(fx Effects, reporter Reporter, logger zerolog.Logger) *Interpreter {
	if reporter == nil {
		reporter = NopReporter{}
	}
	in := &Interpreter{
		fx:       fx,
		reporter: reporter,
		logger:   logger.With().Str("component", "interpreter").Logger(),
	}
	in.handlers = in.table()
	return in
}

// Handles reports whether name has a handler.
func (in *Interpreter) Handles(name string) bool {
	_, ok := in.handlers[command.Name(name)]
	return ok
}

// Handle applies one command. Unknown names and malformed payloads are
// logged locally and reported, never applied. The returned error is
// informational; the caller keeps going either way.
func (in *Interpreter) Handle(name string, raw map[string]any) error {
	p, err := command.Decode(name, raw)
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		in.logger.Warn().Str("command", name).Msg("received unhandled command")
		in.fx.LogActivity("Received unhandled command: " + name)
		in.reporter.Report(EventUnhandledCommand, map[string]any{"command": name})
		return err
	case err != nil:
		in.logger.Warn().Err(err).Str("command", name).Msg("invalid command payload")
		in.fx.LogError(fmt.Sprintf("Invalid payload for command %s: %v", name, err))
		in.reporter.Report(EventInvalidCommandPayload, map[string]any{"command": name, "error": err.Error()})
		return err
	}

	h, ok := in.handlers[p.Command()]
	if !ok {
		// Known to the catalog but not wired here.
		in.logger.Warn().Str("command", name).Msg("received unhandled command")
		in.fx.LogActivity("Received unhandled command: " + name)
		in.reporter.Report(EventUnhandledCommand, map[string]any{"command": name})
		return fmt.Errorf("%w: %q", command.ErrUnknownCommand, name)
	}

	in.logger.Debug().Str("command", name).Msg("command received")
	in.fx.LogActivity("Admin command received: " + name)
	h(p)
	return nil
}

func (in *Interpreter) table() map[command.Name]handler {
	fx := in.fx
	return map[command.Name]handler{
		command.Redirect: func(p command.Payload) {
			url := p.(command.RedirectPayload).URL
			fx.Notify("Admin redirected you to " + url + ".")
			fx.Navigate(url)
		},
		command.Panic: func(p command.Payload) {
			fx.Notify("Admin initiated panic mode! Redirecting...")
			fx.Navigate(p.(command.PanicPayload).Target())
		},
		command.SetZoom: func(p command.Payload) {
			level := p.(command.ZoomPayload).Level
			fx.SetZoom(level)
			fx.Notify(fmt.Sprintf("Admin set zoom to %d%%.", int(math.Round(level*100))))
		},
		command.SetTheme: func(p command.Payload) {
			theme := p.(command.ThemePayload).Theme
			fx.SetTheme(theme)
			fx.Notify("Admin set theme to " + theme + ".")
		},
		command.SetAccentColor: func(p command.Payload) {
			color := p.(command.AccentColorPayload).Color
			fx.SetAccentColor(color)
			fx.Notify("Admin set accent theme to " + color + ".")
		},
		command.SetBackgroundColor: func(p command.Payload) {
			color := p.(command.BackgroundColorPayload).Color
			fx.SetBackgroundColor(color)
			fx.Notify("Admin set background color to " + color + ".")
		},
		command.ClearActivityLogs: func(command.Payload) {
			fx.ClearActivityLog()
			fx.Notify("Admin cleared activity logs.")
		},
		command.ClearErrorLogs: func(command.Payload) {
			fx.ClearErrorLog()
			fx.Notify("Admin cleared error logs.")
		},
		command.ClearLoginHistory: func(command.Payload) {
			fx.ClearLoginHistory()
			fx.Notify("Admin cleared login history.")
		},
		command.ClearAll: func(command.Payload) {
			fx.ClearAll()
			fx.Notify("Admin cleared all local data.")
		},
		command.SetClickCount: func(p command.Payload) {
			n := p.(command.ClickCountPayload).Count
			fx.SetClickCount(n)
			fx.Notify(fmt.Sprintf("Admin set click count to %d.", n))
		},
		command.Logout: func(command.Payload) {
			fx.Notify("Admin initiated logout.")
			fx.Logout()
		},
		command.Restart: func(command.Payload) {
			fx.Notify("Admin initiated system restart.")
			fx.Restart()
		},
		command.SetAnnouncement: func(p command.Payload) {
			a := p.(command.AnnouncementPayload)
			if a.IsActive && a.Text != "" {
				fx.SetAnnouncement(a.Text, true)
			} else {
				fx.SetAnnouncement("", false)
			}
			fx.Notify("Announcement updated by admin.")
		},
		command.ToggleSection: func(p command.Payload) {
			s := p.(command.SectionPayload)
			fx.ToggleSection(s.SectionID, s.Visible)
			fx.Notify("Admin toggled section: " + s.SectionID)
		},
		command.TakeScreenshot: func(command.Payload) {
			fx.Notify("Admin requested screenshot.")
			in.reporter.Report(EventScreenshot, fx.Capture())
		},
		command.RequestLogs: func(p command.Payload) {
			logType := p.(command.LogsPayload).LogType
			var logs []string
			if logType == "error" {
				logs = fx.ErrorLog()
			} else {
				logs = fx.ActivityLog()
			}
			in.reporter.Report(EventLogs, map[string]any{"logType": logType, "logs": logs})
			fx.Notify("Admin requested " + logType + " logs.")
		},
		command.ShowNotification: func(p command.Payload) {
			fx.Notify(p.(command.NotificationPayload).Message)
		},
		command.LockScreen: func(command.Payload) {
			fx.LockScreen()
			fx.Notify("Admin has locked your screen! Contact admin to unlock.")
		},
		command.SendMessage: func(p command.Payload) {
			msg := p.(command.MessagePayload).Message
			fx.ShowMessage(msg)
			fx.Notify("Admin message: " + msg)
		},
		command.KillSwitch: func(command.Payload) {
			fx.Notify("Admin activated the kill switch.")
			fx.Kill()
		},
	}
}
