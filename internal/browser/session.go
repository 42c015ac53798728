package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"composerkeys-mcp-server/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoTarget is returned when no open tab matches the target URL patterns
// and no start URL is configured.
var ErrNoTarget = errors.New("no tab matches browser.target_urls")

// Session describes the tab the engine is attached to.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// SessionManager owns the Chrome connection and the attached composer tab.
type SessionManager struct {
	cfg     config.BrowserConfig
	log     *zap.Logger
	targets []glob.Glob

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	session    *Session
	page       *rod.Page
}

// NewSessionManager compiles the target URL patterns.
func NewSessionManager(cfg config.BrowserConfig, log *zap.Logger) (*SessionManager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := &SessionManager{cfg: cfg, log: log}
	for _, pattern := range cfg.TargetURLs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("target url %q: %w", pattern, err)
		}
		m.targets = append(m.targets, g)
	}
	return m, nil
}

// MatchesTarget reports whether url is a tab the engine may drive.
func (m *SessionManager) MatchesTarget(url string) bool {
	for _, g := range m.targets {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.log.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser, m.controlURL, m.session, m.page = nil, "", nil, nil
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	// The connection outlives the call that opened it.
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.log.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

// launch starts Chrome from cfg.Launch, or lets Rod find a browser when no
// command is configured.
func (m *SessionManager) launch() (string, error) {
	var bin string
	var extra []string
	if len(m.cfg.Launch) > 0 {
		bin, extra = m.cfg.Launch[0], m.cfg.Launch[1:]
	}
	l := launcher.New().Headless(m.cfg.IsHeadless())
	if bin != "" {
		l = l.Bin(bin)
	}
	if m.cfg.UserDataDir != "" {
		l = l.UserDataDir(m.cfg.UserDataDir)
	}
	for _, rawFlag := range extra {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}
	// Fallback: let Rod pick the port and defaults.
	fallback := launcher.New().Headless(m.cfg.IsHeadless())
	if bin != "" {
		fallback = fallback.Bin(bin)
	}
	alt, altErr := fallback.Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Attach binds to the first open tab whose URL matches a target pattern,
// opening cfg.StartURL when none does. An existing live attachment is reused.
func (m *SessionManager) Attach(ctx context.Context) (*rod.Page, Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return nil, Session{}, errors.New("browser not connected")
	}
	if m.page != nil {
		if info, err := m.page.Info(); err == nil && m.MatchesTarget(info.URL) {
			m.session.URL, m.session.Title, m.session.LastActive = info.URL, info.Title, time.Now()
			return m.page, *m.session, nil
		}
		m.page, m.session = nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.AttachTimeout())
	defer cancel()

	pages, err := m.browser.Context(ctx).Pages()
	if err != nil {
		return nil, Session{}, fmt.Errorf("list tabs: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil || !m.MatchesTarget(info.URL) {
			continue
		}
		return m.track(p.Context(context.Background()), info, "attached")
	}

	if m.cfg.StartURL == "" {
		return nil, Session{}, ErrNoTarget
	}
	p, err := m.browser.Page(proto.TargetCreateTarget{URL: m.cfg.StartURL})
	if err != nil {
		return nil, Session{}, fmt.Errorf("open %s: %w", m.cfg.StartURL, err)
	}
	if err := p.Timeout(m.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		m.log.Warn("start page did not finish loading", zap.Error(err))
	}
	info, err := p.Info()
	if err != nil {
		return nil, Session{}, fmt.Errorf("inspect %s: %w", m.cfg.StartURL, err)
	}
	return m.track(p, info, "created")
}

func (m *SessionManager) track(p *rod.Page, info *proto.TargetTargetInfo, status string) (*rod.Page, Session, error) {
	s := &Session{
		ID:         uuid.NewString(),
		TargetID:   string(info.TargetID),
		URL:        info.URL,
		Title:      info.Title,
		Status:     status,
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}
	m.page, m.session = p, s
	m.log.Info("attached to tab", zap.String("session", s.ID), zap.String("url", s.URL), zap.String("status", status))
	return p, *s, nil
}

// Session returns the current attachment, if any.
func (m *SessionManager) Session() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Shutdown closes the browser connection. Tabs that were already open are
// left alone when attached over a debugger URL.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.browser != nil {
		if m.cfg.DebuggerURL == "" {
			err = m.browser.Close()
		}
		m.browser = nil
	}
	m.controlURL, m.session, m.page = "", nil, nil
	m.log.Info("browser shutdown complete")
	return err
}
