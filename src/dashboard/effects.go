package dashboard

import (
	"sort"
	"sync"
	"time"
)

// Effects is the local surface admin commands act on. A UI implements it;
// State is the headless implementation.
type Effects interface {
	Navigate(url string)
	SetZoom(level float64)
	SetTheme(theme string)
	SetAccentColor(color string)
	SetBackgroundColor(color string)
	SetClickCount(n int)
	SetAnnouncement(text string, active bool)
	// ToggleSection forces a section visible or hidden, or flips it when
	// visible is nil.
	ToggleSection(id string, visible *bool)

	ClearActivityLog()
	ClearErrorLog()
	ClearLoginHistory()
	ClearAll()

	Logout()
	Restart()
	LockScreen()
	Kill()

	Notify(message string)
	ShowMessage(message string)

	LogActivity(entry string)
	LogError(entry string)
	ActivityLog() []string
	ErrorLog() []string
	// Capture returns a snapshot of what the user currently sees.
	Capture() map[string]any
}

// Default view settings.
const (
	DefaultZoom  = 1.0
	DefaultTheme = "dark"
)

// State is an in-memory dashboard. It is safe for concurrent use.
type State struct {
	mu sync.Mutex

	location        string
	zoom            float64
	theme           string
	accentColor     string
	backgroundColor string
	clickCount      int
	announcement    string
	announcementOn  bool
	hidden          map[string]bool

	activity      []string
	errors        []string
	loginHistory  []string
	notifications []string
	messages      []string

	loggedIn bool
	locked   bool
	killed   bool
	restarts int

	now func() time.Time
}

var _ Effects = (*State)(nil)

// NewState returns a logged-in dashboard with default settings.
func NewState() *State {
	return &State{
		zoom:     DefaultZoom,
		theme:    DefaultTheme,
		hidden:   map[string]bool{},
		loggedIn: true,
		now:      time.Now,
	}
}

func (s *State) Navigate(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = url
}

func (s *State) SetZoom(level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom = level
}

func (s *State) SetTheme(theme string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = theme
}

func (s *State) SetAccentColor(color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accentColor = color
}

func (s *State) SetBackgroundColor(color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backgroundColor = color
}

func (s *State) SetClickCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clickCount = n
}

func (s *State) SetAnnouncement(text string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announcement = text
	s.announcementOn = active
}

func (s *State) ToggleSection(id string, visible *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if visible != nil {
		s.hidden[id] = !*visible
		return
	}
	s.hidden[id] = !s.hidden[id]
}

func (s *State) ClearActivityLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = nil
}

func (s *State) ClearErrorLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = nil
}

func (s *State) ClearLoginHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginHistory = nil
}

// ClearAll wipes logs and settings but keeps the session.
func (s *State) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = nil
	s.errors = nil
	s.loginHistory = nil
	s.notifications = nil
	s.messages = nil
	s.clickCount = 0
	s.zoom = DefaultZoom
	s.theme = DefaultTheme
	s.accentColor = ""
	s.backgroundColor = ""
	s.hidden = map[string]bool{}
}

func (s *State) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = false
}

func (s *State) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	s.locked = false
}

func (s *State) LockScreen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = true
}

func (s *State) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = true
}

func (s *State) Notify(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, message)
}

func (s *State) ShowMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *State) LogActivity(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, s.stamp(entry))
}

func (s *State) LogError(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, s.stamp(entry))
}

// RecordLogin adds an entry to the login history.
func (s *State) RecordLogin(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
	s.loginHistory = append(s.loginHistory, s.stamp(user))
}

func (s *State) ActivityLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.activity...)
}

func (s *State) ErrorLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errors...)
}

func (s *State) LoginHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loginHistory...)
}

func (s *State) Notifications() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notifications...)
}

func (s *State) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func (s *State) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

func (s *State) Zoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

func (s *State) Theme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme
}

func (s *State) ClickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clickCount
}

func (s *State) Announcement() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announcement, s.announcementOn
}

func (s *State) SectionHidden(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hidden[id]
}

func (s *State) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *State) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

func (s *State) Killed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

func (s *State) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *State) Capture() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	hidden := make([]string, 0, len(s.hidden))
	for id, h := range s.hidden {
		if h {
			hidden = append(hidden, id)
		}
	}
	sort.Strings(hidden)
	return map[string]any{
		"location":        s.location,
		"zoom":            s.zoom,
		"theme":           s.theme,
		"accentColor":     s.accentColor,
		"backgroundColor": s.backgroundColor,
		"clickCount":      s.clickCount,
		"announcement":    s.announcement,
		"hiddenSections":  hidden,
		"locked":          s.locked,
		"capturedAt":      s.now().UTC().Format(time.RFC3339),
	}
}

// stamp must be called with mu held.
func (s *State) stamp(entry string) string {
	return s.now().UTC().Format(time.RFC3339) + " " + entry
}
