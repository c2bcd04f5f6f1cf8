// Package command defines the closed set of admin commands a dashboard
// understands and the typed payload each one carries.
//
// The same catalog is used on both ends of the relay: the dispatcher rejects
// unknown names and malformed payloads before anything reaches a socket, and
// the dashboard interpreter decodes into the same types before mutating state.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidPayload = errors.New("invalid command payload")
)

// Name identifies a command on the wire.
type Name string

const (
	Redirect           Name = "redirect"
	Panic              Name = "panic"
	SetZoom            Name = "setZoom"
	SetTheme           Name = "setTheme"
	SetAccentColor     Name = "setAccentColor"
	SetBackgroundColor Name = "setBackgroundColor"
	ClearActivityLogs  Name = "clearActivityLogs"
	ClearErrorLogs     Name = "clearErrorLogs"
	ClearLoginHistory  Name = "clearLoginHistory"
	ClearAll           Name = "clearAll"
	SetClickCount      Name = "setClickCount"
	Logout             Name = "logout"
	Restart            Name = "restart"
	SetAnnouncement    Name = "setAnnouncement"
	ToggleSection      Name = "toggleSection"
	TakeScreenshot     Name = "takeScreenshot"
	RequestLogs        Name = "requestLogs"
	ShowNotification   Name = "showNotification"
	LockScreen         Name = "lockScreen"
	SendMessage        Name = "sendMessage"
	KillSwitch         Name = "killSwitch"
)

// PanicURL is where "panic" sends a dashboard when no url is given.
const PanicURL = "about:blank"

const (
	MinZoom = 0.5
	MaxZoom = 2.0
)

// Payload is implemented by every command payload type.
type Payload interface {
	Command() Name
	validate() error
}

type (
	RedirectPayload struct {
		URL string `json:"url"`
	}
	PanicPayload struct {
		URL string `json:"url,omitempty"`
	}
	ZoomPayload struct {
		Level float64 `json:"level"`
	}
	ThemePayload struct {
		Theme string `json:"theme"`
	}
	AccentColorPayload struct {
		Color string `json:"color"`
	}
	BackgroundColorPayload struct {
		Color string `json:"color"`
	}
	ClickCountPayload struct {
		Count int `json:"count"`
	}
	AnnouncementPayload struct {
		Text     string `json:"text"`
		IsActive bool   `json:"isActive"`
	}
	SectionPayload struct {
		SectionID string `json:"sectionId"`
		// Visible forces a state; nil flips the current one.
		Visible *bool `json:"visible,omitempty"`
	}
	LogsPayload struct {
		LogType string `json:"logType"`
	}
	NotificationPayload struct {
		Message string `json:"message"`
	}
	MessagePayload struct {
		Message string `json:"message"`
	}
	// Empty is the payload of commands that carry no arguments.
	Empty struct {
		name Name
	}
)

func (RedirectPayload) Command() Name        { return Redirect }
func (PanicPayload) Command() Name           { return Panic }
func (ZoomPayload) Command() Name            { return SetZoom }
func (ThemePayload) Command() Name           { return SetTheme }
func (AccentColorPayload) Command() Name     { return SetAccentColor }
func (BackgroundColorPayload) Command() Name { return SetBackgroundColor }
func (ClickCountPayload) Command() Name      { return SetClickCount }
func (AnnouncementPayload) Command() Name    { return SetAnnouncement }
func (SectionPayload) Command() Name         { return ToggleSection }
func (LogsPayload) Command() Name            { return RequestLogs }
func (NotificationPayload) Command() Name    { return ShowNotification }
func (MessagePayload) Command() Name         { return SendMessage }
func (e Empty) Command() Name                { return e.name }

func (p RedirectPayload) validate() error {
	if p.URL == "" {
		return errors.New("url is required")
	}
	return checkURL(p.URL)
}

func (p PanicPayload) validate() error {
	if p.URL == "" {
		return nil
	}
	return checkURL(p.URL)
}

// Target returns the redirect destination, defaulting to PanicURL.
func (p PanicPayload) Target() string {
	if p.URL == "" {
		return PanicURL
	}
	return p.URL
}

func (p ZoomPayload) validate() error {
	if p.Level < MinZoom || p.Level > MaxZoom {
		return fmt.Errorf("level must be between %.1f and %.1f", MinZoom, MaxZoom)
	}
	return nil
}

func (p ThemePayload) validate() error {
	if p.Theme != "light" && p.Theme != "dark" {
		return fmt.Errorf("theme must be light or dark, got %q", p.Theme)
	}
	return nil
}

func (p AccentColorPayload) validate() error     { return requireField("color", p.Color) }
func (p BackgroundColorPayload) validate() error { return requireField("color", p.Color) }

func (p ClickCountPayload) validate() error {
	if p.Count < 0 {
		return errors.New("count must not be negative")
	}
	return nil
}

func (p AnnouncementPayload) validate() error {
	if p.IsActive && strings.TrimSpace(p.Text) == "" {
		return errors.New("text is required for an active announcement")
	}
	return nil
}

func (p SectionPayload) validate() error { return requireField("sectionId", p.SectionID) }

func (p LogsPayload) validate() error {
	if p.LogType != "activity" && p.LogType != "error" {
		return fmt.Errorf("logType must be activity or error, got %q", p.LogType)
	}
	return nil
}

func (p NotificationPayload) validate() error { return requireField("message", p.Message) }
func (p MessagePayload) validate() error      { return requireField("message", p.Message) }
func (Empty) validate() error                 { return nil }

type decoder func() Payload

var catalog = map[Name]decoder{
	Redirect:           func() Payload { return &RedirectPayload{} },
	Panic:              func() Payload { return &PanicPayload{} },
	SetZoom:            func() Payload { return &ZoomPayload{} },
	SetTheme:           func() Payload { return &ThemePayload{} },
	SetAccentColor:     func() Payload { return &AccentColorPayload{} },
	SetBackgroundColor: func() Payload { return &BackgroundColorPayload{} },
	SetClickCount:      func() Payload { return &ClickCountPayload{} },
	SetAnnouncement:    func() Payload { return &AnnouncementPayload{} },
	ToggleSection:      func() Payload { return &SectionPayload{} },
	RequestLogs:        func() Payload { return &LogsPayload{} },
	ShowNotification:   func() Payload { return &NotificationPayload{} },
	SendMessage:        func() Payload { return &MessagePayload{} },
	ClearActivityLogs:  nil,
	ClearErrorLogs:     nil,
	ClearLoginHistory:  nil,
	ClearAll:           nil,
	Logout:             nil,
	Restart:            nil,
	TakeScreenshot:     nil,
	LockScreen:         nil,
	KillSwitch:         nil,
}

// Known reports whether name is in the catalog.
func Known(name string) bool {
	_, ok := catalog[Name(name)]
	return ok
}

// Names returns every command name, sorted.
func Names() []Name {
	names := make([]Name, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Decode turns a wire payload into the typed payload for name. The result
// is a value type (RedirectPayload, ZoomPayload, Empty, ...).
func Decode(name string, raw map[string]any) (Payload, error) {
	newPayload, ok := catalog[Name(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if newPayload == nil {
		return Empty{name: Name(name)}, nil
	}

	p := newPayload()
	if len(raw) > 0 {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
		}
	}
	p = deref(p)
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
	}
	return p, nil
}

// Encode returns the wire form of a typed payload.
func Encode(p Payload) (map[string]any, error) {
	if _, ok := p.(Empty); ok {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *RedirectPayload:
		return *v
	case *PanicPayload:
		return *v
	case *ZoomPayload:
		return *v
	case *ThemePayload:
		return *v
	case *AccentColorPayload:
		return *v
	case *BackgroundColorPayload:
		return *v
	case *ClickCountPayload:
		return *v
	case *AnnouncementPayload:
		return *v
	case *SectionPayload:
		return *v
	case *LogsPayload:
		return *v
	case *NotificationPayload:
		return *v
	case *MessagePayload:
		return *v
	}
	return p
}

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func checkURL(raw string) error {
	if raw == PanicURL {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http(s) or %s", PanicURL)
	}
	if u.Host == "" {
		return errors.New("url must have a host")
	}
	return nil
}
