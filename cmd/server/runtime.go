package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"composerkeys-mcp-server/internal/browser"
	"composerkeys-mcp-server/internal/command"
	"composerkeys-mcp-server/internal/config"
	"composerkeys-mcp-server/internal/mangle"
	"composerkeys-mcp-server/internal/menu"
	"composerkeys-mcp-server/internal/recorder"
	"composerkeys-mcp-server/internal/settings"
	"composerkeys-mcp-server/internal/shortcut"
	"composerkeys-mcp-server/internal/synth"
	"composerkeys-mcp-server/internal/toggle"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// runtime owns every long-lived piece of the process. The page pipeline
// (live page, orchestrator, dispatcher, key hooks) is built on the first
// command unless the browser auto-starts.
type runtime struct {
	cfg config.Config
	log *zap.Logger
	ctx context.Context

	engine   *mangle.Engine
	recorder *recorder.Recorder
	sessions *browser.SessionManager
	store    *settings.FileStore
	registry *shortcut.Registry

	mu         sync.Mutex
	live       *browser.LivePage
	dispatcher *command.Dispatcher
	recognizer *shortcut.Recognizer
	hooks      *browser.Hooks
	unsubHooks func()
}

// newRuntime builds the journal, trace recorder, settings store and chord
// registry. ctx bounds the commands fired from the page.
func newRuntime(ctx context.Context, cfg config.Config, log *zap.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: log, ctx: ctx}

	engine, err := mangle.NewEngine(cfg.Mangle, log.Named("journal"))
	if err != nil {
		return nil, fmt.Errorf("initialize journal: %w", err)
	}
	rt.engine = engine

	if cfg.Recorder.Enable {
		rec, err := recorder.NewRecorder(cfg.Recorder.Dir)
		if err != nil {
			return nil, fmt.Errorf("initialize recorder: %w", err)
		}
		if err := rec.Start(uuid.NewString()); err != nil {
			return nil, fmt.Errorf("start recorder: %w", err)
		}
		log.Info("recording toggle traces", zap.String("path", rec.Path()))
		rt.recorder = rec
	}

	sessions, err := browser.NewSessionManager(cfg.Browser, log.Named("browser"))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.sessions = sessions

	store, err := settings.OpenFile(cfg.Shortcuts.SettingsFile, shortcut.StorageKeys(), log.Named("settings"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open settings: %w", err)
	}
	rt.store = store
	return rt, nil
}

// openRegistry picks the platform and loads the bindings. With platform
// auto the attached page decides when there is one, then the host OS.
func (rt *runtime) openRegistry(ctx context.Context) error {
	platform, ok := shortcut.ParsePlatform(strings.ToLower(rt.cfg.Shortcuts.Platform))
	if !ok {
		platform = shortcut.HostPlatform()
		if rt.live != nil {
			if p, err := browser.DetectPlatform(ctx, rt.live.Rod()); err == nil {
				platform = p
			} else {
				rt.log.Debug("page platform unknown, using host", zap.Error(err))
			}
		}
	}
	reg, err := shortcut.NewRegistry(rt.store, platform, rt.log.Named("shortcuts"))
	if err != nil {
		return fmt.Errorf("load shortcuts: %w", err)
	}
	rt.registry = reg
	rt.log.Info("shortcuts loaded", zap.Stringer("platform", platform), zap.String("file", rt.store.Path()))
	return nil
}

// attach connects to Chrome, binds the composer tab and builds the page
// pipeline. It is idempotent.
func (rt *runtime) attach(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.dispatcher != nil {
		return nil
	}
	if rt.live != nil {
		_ = rt.live.Close()
		rt.live = nil
	}

	if err := rt.sessions.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	page, session, err := rt.sessions.Attach(ctx)
	if err != nil {
		return fmt.Errorf("attach composer tab: %w", err)
	}
	rt.live = browser.NewLivePage(page, rt.log.Named("page"))

	t := rt.cfg.Timing
	s := synth.New(rt.live, synth.Timing{
		PressHold:    t.PressHoldDuration(),
		HoverSettle:  t.HoverSettleDuration(),
		ClickConfirm: synth.DefaultTiming().ClickConfirm,
	}, rt.log.Named("synth"))
	nav := menu.New(rt.live, s, menu.Timing{
		PollOpen:      t.PollOpenDuration(),
		PollStep:      t.PollStepDuration(),
		MutationWatch: t.MutationWatchDuration(),
		SubmenuSettle: menu.DefaultTiming().SubmenuSettle,
		EscapeWait:    t.EscapeWaitDuration(),
		CloseWait:     t.CloseWaitDuration(),
	}, rt.log.Named("menu"))

	opts := []toggle.Option{toggle.WithLogger(rt.log.Named("toggle")), toggle.WithJournal(rt.engine)}
	if rt.recorder != nil {
		opts = append(opts, toggle.WithTracer(rt.recorder))
	}
	orch := toggle.New(s, nav, toggle.Timing{
		CheckWait:   t.CheckWaitDuration(),
		ClickWait:   t.ClickWaitDuration(),
		KeyGap:      t.KeyGapDuration(),
		BadgeSettle: t.CheckWaitDuration(),
		Attempts:    t.Attempts(),
	}, opts...)

	dispatcher := command.NewDispatcher(orch, rt.live, rt.engine, rt.log.Named("command"))

	if rt.registry == nil {
		if err := rt.openRegistry(ctx); err != nil {
			return err
		}
	}
	recognizer := shortcut.NewRecognizer(rt.registry, dispatcher, rt.engine, rt.log.Named("keys"))

	hooks, err := browser.InstallHooks(rt.ctx, page, recognizer, rt.registry.Bindings(), rt.log.Named("hooks"))
	if err != nil {
		return fmt.Errorf("install key hooks: %w", err)
	}
	// Publish only a complete pipeline so a failed attach is retried.
	rt.dispatcher, rt.recognizer, rt.hooks = dispatcher, recognizer, hooks
	rt.unsubHooks = rt.registry.Subscribe(func(b map[toggle.Feature]shortcut.Binding) {
		if err := hooks.PushBindings(rt.ctx, b); err != nil {
			rt.log.Warn("push bindings failed", zap.Error(err))
		}
	})

	rt.log.Info("composer pipeline ready", zap.String("session", session.ID), zap.String("url", session.URL))
	return nil
}

// Handle implements the MCP Commander, attaching on first use.
func (rt *runtime) Handle(ctx context.Context, m command.Message) command.Response {
	if _, ok := command.Resolve(m); !ok {
		return command.Response{Reason: string(toggle.ReasonNotImplemented)}
	}
	if err := rt.attach(ctx); err != nil {
		return command.Response{Error: err.Error()}
	}
	return rt.dispatcher.Handle(ctx, m)
}

// Platform, Bindings and Set implement the MCP Shortcuts surface.
func (rt *runtime) Platform() shortcut.Platform {
	reg, err := rt.reg()
	if err != nil {
		return shortcut.HostPlatform()
	}
	return reg.Platform()
}

func (rt *runtime) Bindings() map[toggle.Feature]shortcut.Binding {
	reg, err := rt.reg()
	if err != nil {
		rt.log.Error("shortcut registry unavailable", zap.Error(err))
		return nil
	}
	return reg.Bindings()
}

func (rt *runtime) Set(f toggle.Feature, b shortcut.Binding) error {
	reg, err := rt.reg()
	if err != nil {
		return err
	}
	return reg.Set(f, b)
}

func (rt *runtime) reg() (*shortcut.Registry, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.registry == nil {
		if err := rt.openRegistry(rt.ctx); err != nil {
			return nil, err
		}
	}
	return rt.registry, nil
}

// parseCommand accepts a feature name, a host command name or
// toggleThinkLonger.
func parseCommand(arg string) (command.Message, bool) {
	arg = strings.TrimSpace(arg)
	if m, ok := command.FromCommandName(arg); ok {
		return m, true
	}
	if arg == command.ActionToggleThinkLonger {
		return command.Message{Action: command.ActionToggleThinkLonger}, true
	}
	if _, ok := toggle.ParseFeature(arg); ok {
		return command.Message{Action: command.ActionRunMode, Mode: arg}, true
	}
	return command.Message{}, false
}

// Close tears everything down in reverse order, waiting for commands
// already fired from the page.
func (rt *runtime) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var errs []error
	if rt.unsubHooks != nil {
		rt.unsubHooks()
	}
	if rt.hooks != nil {
		errs = append(errs, rt.hooks.Close())
	}
	if rt.recognizer != nil {
		rt.recognizer.Close()
	}
	if rt.registry != nil {
		errs = append(errs, rt.registry.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.live != nil {
		errs = append(errs, rt.live.Close())
	}
	if rt.sessions != nil {
		errs = append(errs, rt.sessions.Shutdown(context.Background()))
	}
	if rt.recorder != nil {
		errs = append(errs, rt.recorder.Close())
	}
	return errors.Join(errs...)
}
