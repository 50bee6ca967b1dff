// Package host models the Telegram WebApp object the Mini App runs inside.
// The web view reports its platform and WebApp version at login; nothing
// here assumes a host is present.
package host

import (
	"strconv"
	"strings"
	"sync"

	"warehouse-miniapp/internal/domain"
)

// BackButton mirrors Telegram.WebApp.BackButton.
type BackButton interface {
	Show()
	Hide()
	Visible() bool
	// OnClick registers fn for clicks and returns a func removing it.
	OnClick(fn func()) (remove func())
	// Click delivers a click reported by the web view.
	Click()
}

// Host mirrors the parts of Telegram.WebApp the data layer uses.
type Host interface {
	Platform() string
	Version() string
	// Close asks the web view to dismiss the Mini App.
	Close() error
	Closed() bool
	// BackButton is absent on WebApp versions before 6.1.
	BackButton() (BackButton, bool)
}

// backButtonSince is the first WebApp version with BackButton.
var backButtonSince = [2]int{6, 1}

// Probe returns a Host for the reported platform and version. It returns
// false when the web view did not report a Telegram WebApp host.
func Probe(platform, version string) (Host, bool) {
	platform = strings.TrimSpace(platform)
	version = strings.TrimSpace(version)
	if platform == "" || strings.EqualFold(platform, "unknown") || version == "" {
		return nil, false
	}
	major, minor, ok := parseVersion(version)
	if !ok {
		return nil, false
	}
	h := &webApp{platform: platform, version: version}
	if major > backButtonSince[0] || (major == backButtonSince[0] && minor >= backButtonSince[1]) {
		h.back = &backButton{handlers: make(map[int]func())}
	}
	return h, true
}

func parseVersion(v string) (major, minor int, ok bool) {
	parts := strings.SplitN(v, ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return 0, 0, false
	}
	if len(parts) > 1 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil || minor < 0 {
			return 0, 0, false
		}
	}
	return major, minor, true
}

type webApp struct {
	platform string
	version  string
	back     *backButton

	mu     sync.Mutex
	closed bool
}

func (w *webApp) Platform() string { return w.platform }
func (w *webApp) Version() string  { return w.version }

func (w *webApp) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return domain.ErrHostUnavailable
	}
	w.closed = true
	if w.back != nil {
		w.back.Hide()
	}
	return nil
}

func (w *webApp) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *webApp) BackButton() (BackButton, bool) {
	if w.back == nil {
		return nil, false
	}
	return w.back, true
}

type backButton struct {
	mu       sync.Mutex
	visible  bool
	nextID   int
	handlers map[int]func()
}

func (b *backButton) Show() {
	b.mu.Lock()
	b.visible = true
	b.mu.Unlock()
}

func (b *backButton) Hide() {
	b.mu.Lock()
	b.visible = false
	b.mu.Unlock()
}

func (b *backButton) Visible() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible
}

func (b *backButton) OnClick(fn func()) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Click runs the handlers only while the button is visible.
func (b *backButton) Click() {
	b.mu.Lock()
	if !b.visible {
		b.mu.Unlock()
		return
	}
	hs := make([]func(), 0, len(b.handlers))
	for id := 1; id <= b.nextID; id++ {
		if fn, ok := b.handlers[id]; ok {
			hs = append(hs, fn)
		}
	}
	b.mu.Unlock()
	for _, fn := range hs {
		fn()
	}
}
