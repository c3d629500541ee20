// Package browser provides isolated Chrome sessions for QA runs: device and
// network emulation, locale override, screenshots, performance sampling,
// and accessibility audits, all via go-rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"sentinel/internal/types"
)

// Config holds browser-level configuration shared by all sessions.
type Config struct {
	DebuggerURL         string `yaml:"debugger_url"`
	ChromeBin           string `yaml:"chrome_bin"`
	Headless            bool   `yaml:"headless"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		NavigationTimeoutMs: 30000,
	}
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Manager owns the Chrome instance and hands out isolated sessions. Each
// session gets its own incognito context so runs cannot leak state into
// each other.
type Manager struct {
	cfg        Config
	logger     *zap.Logger
	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
}

// NewManager creates a session manager. The browser is launched lazily on
// the first session.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.ChromeBin != "" {
			launch = launch.Bin(m.cfg.ChromeBin)
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.logger.Info("browser connected", zap.Bool("headless", m.cfg.Headless))
	return nil
}

func (m *Manager) ensureStarted(ctx context.Context) error {
	m.mu.Lock()
	started := m.browser != nil
	m.mu.Unlock()
	if started {
		return nil
	}
	return m.Start(ctx)
}

// Shutdown closes the browser.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	return err
}

// SessionOptions describe the emulation profile for one run.
type SessionOptions struct {
	Device   types.Device
	Network  types.Network
	Locale   string
	VideoDir string // when set, screencast frames are recorded here
}

// Session is one isolated browser context driving a single run.
type Session struct {
	id       string
	page     *rod.Page
	timeout  time.Duration
	logger   *zap.Logger
	recorder *screencastRecorder

	mu            sync.Mutex
	consoleErrors []string
	closed        bool
}

// NewSession opens an incognito context configured per the options.
func (m *Manager) NewSession(ctx context.Context, id string, opts SessionOptions) (*Session, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	sess := &Session{
		id:      id,
		page:    page,
		timeout: m.cfg.NavigationTimeout(),
		logger:  m.logger.With(zap.String("session_id", id)),
	}

	if err := sess.applyDevice(opts.Device); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("apply device profile: %w", err)
	}
	if err := sess.applyNetwork(opts.Network); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("apply network profile: %w", err)
	}
	if opts.Locale != "" {
		if err := sess.applyLocale(opts.Locale); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("apply locale: %w", err)
		}
	}

	sess.watchConsole(ctx)

	if opts.VideoDir != "" {
		rec, err := startScreencast(ctx, page, opts.VideoDir)
		if err != nil {
			sess.logger.Warn("screencast recording unavailable", zap.Error(err))
		} else {
			sess.recorder = rec
		}
	}

	return sess, nil
}

func (s *Session) applyDevice(d types.Device) error {
	width := d.ViewportWidth
	height := d.ViewportHeight
	if width == 0 {
		width = 1920
	}
	if height == 0 {
		height = 1080
	}
	scale := d.Scale
	if scale == 0 {
		scale = 1
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: scale,
		Mobile:            d.Mobile,
	}).Call(s.page); err != nil {
		return err
	}
	if d.Touch {
		if err := (proto.EmulationSetTouchEmulationEnabled{Enabled: true}).Call(s.page); err != nil {
			return err
		}
	}
	if d.UserAgent != "" {
		return s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.UserAgent})
	}
	return nil
}

func (s *Session) applyNetwork(n types.Network) error {
	if !n.Throttled() {
		return nil
	}
	return proto.NetworkEmulateNetworkConditions{
		Offline:            false,
		Latency:            float64(n.LatencyMs),
		DownloadThroughput: float64(n.DownloadKbps) * 1024 / 8,
		UploadThroughput:   float64(n.UploadKbps) * 1024 / 8,
	}.Call(s.page)
}

func (s *Session) applyLocale(locale string) error {
	if err := (proto.EmulationSetLocaleOverride{Locale: locale}).Call(s.page); err != nil {
		return err
	}
	_, err := s.page.SetExtraHeaders([]string{"Accept-Language", locale})
	return err
}

func (s *Session) watchConsole(ctx context.Context) {
	go s.page.Context(ctx).EachEvent(func(ev *proto.RuntimeConsoleAPICalled) {
		if ev.Type != proto.RuntimeConsoleAPICalledTypeError {
			return
		}
		parts := make([]string, 0, len(ev.Args))
		for _, a := range ev.Args {
			if a == nil {
				continue
			}
			if !a.Value.Nil() {
				parts = append(parts, a.Value.String())
			} else if a.Description != "" {
				parts = append(parts, a.Description)
			}
		}
		s.mu.Lock()
		if len(s.consoleErrors) < 200 {
			s.consoleErrors = append(s.consoleErrors, strings.Join(parts, " "))
		}
		s.mu.Unlock()
	})()
}

// ConsoleErrors returns console errors captured so far.
func (s *Session) ConsoleErrors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.consoleErrors))
	copy(out, s.consoleErrors)
	return out
}

// Navigate loads a URL and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx).Timeout(s.timeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return page.WaitLoad()
}

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Timeout(s.timeout).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Type types text into the element matching selector.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	el, err := s.page.Context(ctx).Timeout(s.timeout).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Input(text)
}

// PressKey sends a keyboard key (e.g. "Enter", "Tab", "Escape").
func (s *Session) PressKey(ctx context.Context, key string) error {
	return s.page.Context(ctx).Keyboard.Type(keyFromName(key)...)
}

// Scroll scrolls the page by the given deltas.
func (s *Session) Scroll(ctx context.Context, deltaX, deltaY float64) error {
	return s.page.Context(ctx).Mouse.Scroll(deltaX, deltaY, 1)
}

// Back navigates back in history.
func (s *Session) Back(ctx context.Context) error {
	return s.page.Context(ctx).NavigateBack()
}

// ReadText returns the visible text content of the page body, truncated.
func (s *Session) ReadText(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => (document.body && document.body.innerText || '').slice(0, 8000)`)
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return res.Value.String(), nil
}

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, nil)
}

// CurrentURL returns the page URL.
func (s *Session) CurrentURL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Close tears down the session. It returns the recording path when a
// screencast was captured, empty otherwise.
func (s *Session) Close() (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", nil
	}
	s.closed = true
	s.mu.Unlock()

	var videoPath string
	if s.recorder != nil {
		videoPath = s.recorder.stop()
	}
	if err := s.page.Close(); err != nil {
		return videoPath, fmt.Errorf("close page: %w", err)
	}
	return videoPath, nil
}
