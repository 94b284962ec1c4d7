package bridge

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tinyland-inc/relayclaw/cmd/relayclaw/internal"
	"github.com/tinyland-inc/relayclaw/pkg/bridge"
	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/channels/groupme"
	slackchan "github.com/tinyland-inc/relayclaw/pkg/channels/slack"
	"github.com/tinyland-inc/relayclaw/pkg/channels/zulip"
	"github.com/tinyland-inc/relayclaw/pkg/config"
	"github.com/tinyland-inc/relayclaw/pkg/correlation"
	"github.com/tinyland-inc/relayclaw/pkg/directory"
	"github.com/tinyland-inc/relayclaw/pkg/reformat"
	"github.com/tinyland-inc/relayclaw/pkg/store"
)

func bridgeCmd(debug bool) error {
	// Local .env files are a dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
		fmt.Println("🔍 Debug mode enabled")
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(level)

	kv, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer kv.Close()

	// The connector is built before the orchestrator because the
	// directory fetches identities through it; the event handler is
	// wired in afterwards, before Start.
	conn := slackchan.New(cfg.Slack.Token, nil, log)
	if cfg.Slack.ErrorChannel != "" {
		log = log.Hook(slackchan.NewErrorHook(conn, cfg.Slack.ErrorChannel))
	}

	dir := directory.New(kv, conn, log)
	dir.SetNewUserFunc(conn.WelcomeNewUser)

	corr := correlation.New(kv, cfg.Bridge.CorrelationTTL(), log)

	pipeline := reformat.NewPipeline(func(id string) (string, bool) {
		return dir.ResolveUser(context.Background(), id, false)
	}, log)

	sb := bus.NewSendBus()

	br := bridge.New(bridge.Config{
		BotUserID:        cfg.Slack.BotUserID,
		StreamBotEmail:   cfg.Zulip.Email,
		PublicTwoWay:     cfg.Bridge.PublicTwoWay,
		PublicStream:     cfg.Zulip.PublicStream,
		LogEnabled:       cfg.Zulip.LogEnabled,
		LogPublicStream:  cfg.Zulip.LogPublicStream,
		LogPrivateStream: cfg.Zulip.LogPrivateStream,
		GroupMeChannels:  cfg.GroupMe.ChannelNames(),
	}, dir, corr, pipeline, sb, conn, log)
	conn.SetHandler(br)

	zc := zulip.NewClient(cfg.Zulip.URL, cfg.Zulip.Email, cfg.Zulip.APIKey, log)

	disp := bridge.NewDispatcher(sb, cfg.Bridge.Workers, log)
	if cfg.Zulip.PublicStream != "" {
		disp.Register(bridge.RoutePublic, zulip.NewStream(zc, cfg.Zulip.PublicStream))
	}
	if cfg.Zulip.LogEnabled {
		disp.Register(bridge.RouteLogPublic, zulip.NewStream(zc, cfg.Zulip.LogPublicStream))
		disp.Register(bridge.RouteLogPrivate, zulip.NewStream(zc, cfg.Zulip.LogPrivateStream))
	}
	if cfg.GroupMe.Enabled {
		for name, binding := range cfg.GroupMe.Bindings {
			disp.Register(bridge.GroupMeRoutePrefix+name, groupme.NewBotClient(binding.BotID))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	disp.Start(ctx)

	if err := conn.Start(ctx); err != nil {
		return fmt.Errorf("error starting slack connector: %w", err)
	}
	fmt.Println("✓ Slack listener started")

	zl := zulip.NewListener(zc, br, log)
	if err := zl.Start(ctx); err != nil {
		return fmt.Errorf("error starting zulip listener: %w", err)
	}
	fmt.Println("✓ Zulip listener started")

	var webhooks []*groupme.Listener
	if cfg.GroupMe.Enabled {
		for name, binding := range cfg.GroupMe.Bindings {
			wl := groupme.NewListener(name, binding.BotName, binding.Port, br, log)
			if err := wl.Start(ctx); err != nil {
				return fmt.Errorf("error starting groupme webhook for %s: %w", name, err)
			}
			webhooks = append(webhooks, wl)
			fmt.Printf("✓ GroupMe webhook for #%s on port %d\n", name, binding.Port)
		}
	}

	fmt.Println("✓ Bridge started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	for _, wl := range webhooks {
		if err := wl.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("groupme webhook shutdown")
		}
	}
	if err := zl.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("zulip listener shutdown")
	}
	if err := conn.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("slack connector shutdown")
	}
	sb.Close()
	disp.Wait()
	fmt.Println("✓ Bridge stopped")

	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	var kv store.Store
	switch cfg.Store.Backend {
	case "memory":
		kv = store.NewMemoryStore()
	default:
		s, err := store.NewSQLiteStore(cfg.StorePath())
		if err != nil {
			return nil, err
		}
		kv = s
	}
	if cfg.Store.Prefix != "" {
		kv = store.WithPrefix(kv, cfg.Store.Prefix)
	}
	return kv, nil
}
