// agentifyd exposes a bot-defended web chat UI as a local RPC service,
// driving it through a real browser with human-paced input.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agentify/agentifyd/internal/api"
	"github.com/agentify/agentifyd/internal/browser"
	"github.com/agentify/agentifyd/internal/config"
	"github.com/agentify/agentifyd/internal/controller"
	"github.com/agentify/agentifyd/internal/governor"
	"github.com/agentify/agentifyd/internal/input"
	"github.com/agentify/agentifyd/internal/inspect"
	"github.com/agentify/agentifyd/internal/notify"
	"github.com/agentify/agentifyd/internal/popup"
	"github.com/agentify/agentifyd/internal/profile"
	"github.com/agentify/agentifyd/internal/ratelimit"
	"github.com/agentify/agentifyd/internal/selectors"
	"github.com/agentify/agentifyd/internal/session"
	"github.com/agentify/agentifyd/internal/state"
)

const defaultTabKey = "default"

func main() {
	// .env is optional; flags and real env win.
	_ = godotenv.Load()

	var (
		stateDir    = flag.String("state-dir", state.DefaultDir(), "daemon state directory")
		port        = flag.Int("port", 8129, "preferred API port (increments if busy)")
		chatURL     = flag.String("chat-url", "https://chatgpt.com/", "chat UI to drive")
		profileName = flag.String("profile", "default", "browser profile name")
		headless    = flag.Bool("headless", false, "run the browser headless")
		remoteURL   = flag.String("remote-url", os.Getenv("AGENTIFY_REMOTE_URL"), "attach to a remote browser over CDP instead of launching")
		container   = flag.Bool("container", false, "run the browser in a managed container")
	)
	flag.Parse()

	log := buildLogger()
	defer log.Sync()

	if err := run(log, *stateDir, *port, *chatURL, *profileName, *headless, *remoteURL, *container); err != nil {
		log.Fatalw("daemon failed", "error", err)
	}
}

func buildLogger() *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if strings.EqualFold(os.Getenv("AGENTIFY_LOG"), "debug") {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
		logger, err = cfg.Build()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	return logger.Sugar()
}

func run(log *zap.SugaredLogger, stateDir string, port int, chatURL, profileName string, headless bool, remoteURL string, container bool) error {
	if err := state.EnsureDir(stateDir); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	token, err := state.EnsureToken(stateDir)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	tokenRef := state.NewTokenRef(token)

	cfg := config.Read(stateDir)
	sels := selectors.Load(stateDir)
	log.Infow("starting agentifyd", "stateDir", stateDir, "chatURL", chatURL, "profile", profileName,
		"maxTabs", cfg.MaxTabs, "maxParallelQueries", cfg.MaxParallelQueries, "maxQueriesPerMinute", cfg.MaxQueriesPerMinute)

	profiles, err := profile.NewStore(stateDir)
	if err != nil {
		return err
	}
	profileDir, err := profiles.Dir(profileName)
	if err != nil {
		return err
	}

	// Containerized backend: bring up browserless and attach over CDP.
	var containers *browser.Containers
	if container && remoteURL == "" {
		containers, err = browser.NewContainers(log)
		if err != nil {
			return err
		}
		defer containers.Close()
		bootCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := containers.EnsureImage(bootCtx); err != nil {
			return err
		}
		inst, err := containers.Start(bootCtx, profileName, profileDir)
		if err != nil {
			return err
		}
		defer containers.Stop(context.Background(), inst.ID)
		remoteURL = inst.ConnectURL
	}

	sess, err := browser.Launch(browser.Options{
		ProfileDir: profileDir,
		Headless:   headless,
		RemoteURL:  remoteURL,
	}, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	hub := notify.NewHub(log)
	defer hub.Close()
	sink := notify.Fanout{notify.NewLogSink(log), hub}

	gov := governor.New(governor.Limits{
		MaxInflight:   cfg.MaxParallelQueries,
		MaxPerMinute:  cfg.MaxQueriesPerMinute,
		MinSessionGap: time.Duration(cfg.MinQueryGapMs) * time.Millisecond,
		MinGlobalGap:  time.Duration(cfg.MinQueryGapMsGlobal) * time.Millisecond,
		MaxWait:       time.Duration(cfg.QueryGapMaxWaitMs) * time.Millisecond,
	}, log)

	popups := popup.Default()
	mac := sess.IsMac()

	tuning := controller.DefaultTuning()
	tuning.ReplyPoll = time.Duration(cfg.ReplyPollMs) * time.Millisecond
	tuning.ReplyStable = time.Duration(cfg.ReplyStableMs) * time.Millisecond
	tuning.StopGoneDebounce = time.Duration(cfg.StopGoneMs) * time.Millisecond
	pacing := input.Pacing{
		TypeJitterMin: time.Duration(cfg.TypeJitterMinMs) * time.Millisecond,
		TypeJitterMax: time.Duration(cfg.TypeJitterMaxMs) * time.Millisecond,
	}

	build := func(p session.Page, attention controller.Attention) (*controller.Controller, browser.Window, error) {
		page := p.(playwright.Page)
		cdp, err := sess.CDPFor(page)
		if err != nil {
			return nil, nil, err
		}
		page.OnPopup(func(p playwright.Page) {
			if !popups.Allow(p.URL()) {
				log.Debugw("closing popup", "url", p.URL())
				p.Close()
			}
		})
		insp := inspect.New(page, sels)
		syn := input.New(cdp, mac, pacing)
		binder := browser.NewFileBinder(cdp, log)
		window := browser.NewWindow(cdp, page, headless || remoteURL != "")
		ctrl := controller.New(insp, syn, binder, attention, tuning, mac, log)
		return ctrl, window, nil
	}

	opener := session.OpenFunc(func(url string) (session.Page, error) { return sess.NewTab(url) })
	tabs := session.NewManager(opener, build, sink, cfg.MaxTabs, cfg.ShowTabsByDefault, log)

	// The default tab exists for the life of the daemon; unaddressed
	// requests land here.
	defaultTab, err := tabs.Ensure(session.CreateOptions{
		Key:       defaultTabKey,
		URL:       chatURL,
		Name:      "default",
		Protected: true,
	})
	if err != nil {
		return fmt.Errorf("default tab: %w", err)
	}
	if !cfg.ShowTabsByDefault {
		if err := defaultTab.Window.Hide(); err != nil {
			log.Debugw("initial hide failed", "error", err)
		}
	}

	serverID := uuid.New().String()
	shutdownCh := make(chan struct{})
	var once sync.Once
	shutdownOnce := func() { once.Do(func() { close(shutdownCh) }) }

	handler := api.NewHandler(api.Options{
		Tabs:       tabs,
		Governor:   gov,
		Token:      tokenRef,
		Hub:        hub,
		Profiles:   profiles,
		StateDir:   stateDir,
		ServerID:   serverID,
		ChatURL:    chatURL,
		DefaultKey: defaultTabKey,
		Shutdown:   shutdownOnce,
	}, log)
	limiter := ratelimit.NewLimiter(240, 60)
	router := handler.SetupRoutes(limiter, 240)

	listener, boundPort, err := listenWithRetry(port, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Query responses can legitimately take minutes.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	rt := state.Runtime{OK: true, Port: boundPort, PID: os.Getpid(), ServerID: serverID, StartedAt: time.Now()}
	if err := state.WriteRuntime(rt, stateDir); err != nil {
		return fmt.Errorf("runtime state: %w", err)
	}

	go func() {
		log.Infow("api listening", "addr", fmt.Sprintf("http://127.0.0.1:%d", boundPort), "serverId", serverID)
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Errorw("server error", "error", err)
			shutdownOnce()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Infow("signal received", "signal", sig.String())
	case <-shutdownCh:
		log.Infow("shutdown requested")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("server shutdown", "error", err)
	}
	tabs.CloseAll()
	os.Remove(state.StatePath(stateDir))
	log.Infow("stopped")
	return nil
}

// listenWithRetry binds the first free loopback port at or above the
// preferred one, so a crashed instance's lingering socket doesn't keep
// the daemon down.
func listenWithRetry(preferred int, log *zap.SugaredLogger) (net.Listener, int, error) {
	const attempts = 20
	for i := 0; i < attempts; i++ {
		port := preferred + i
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return l, port, nil
		}
		log.Debugw("port busy", "port", port, "error", err)
	}
	return nil, 0, fmt.Errorf("no free port in [%d,%d]", preferred, preferred+attempts-1)
}
