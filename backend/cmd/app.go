package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/adwski/chatroom-server/backend/auth"
	"github.com/adwski/chatroom-server/backend/config"
	"github.com/adwski/chatroom-server/backend/identity"
	"github.com/adwski/chatroom-server/backend/model"
	"github.com/adwski/chatroom-server/backend/presence"
	"github.com/adwski/chatroom-server/backend/ratelimit"
	httpServer "github.com/adwski/chatroom-server/backend/server/http"
	websocketServer "github.com/adwski/chatroom-server/backend/server/websocket"
	"github.com/adwski/chatroom-server/backend/service"
	store "github.com/adwski/chatroom-server/backend/storage/memory"
	sw "github.com/adwski/chatroom-server/backend/switch"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr    = fs.StringP("api-listen-addr", "a", ":8080", "login/signup api listen address")
		wsListenAddr     = fs.StringP("ws-listen-addr", "w", ":8888", "websocket chat listen address")
		logLevel         = fs.StringP("log-level", "l", "debug", "log level")
		envFile          = fs.String("env-file", ".env", "optional dotenv file with secrets")
		rateMaxEvents    = fs.Int("rate-max-events", ratelimit.DefaultMaxEvents, "events admitted per connection within rate window")
		rateWindow       = fs.Duration("rate-window", ratelimit.DefaultWindow, "rate limiting sliding window")
		typingTTL        = fs.Duration("typing-ttl", presence.DefaultTypingTTL, "how long a typing indicator lives")
		sweepInterval    = fs.Duration("sweep-interval", service.DefaultSweepInterval, "empty room sweep interval")
		roomHistory      = fs.Int("room-history", store.DefaultHistoryLimit, "messages kept per room, 0 is unbounded")
		privateHistory   = fs.Int("private-history", store.DefaultHistoryLimit, "messages kept per private conversation, 0 is unbounded")
		bcryptCost       = fs.Int("bcrypt-cost", 0, "bcrypt cost for signup passwords, 0 means library default")
		shutdownDeadline = fs.Duration("shutdown-deadline", 15*time.Second, "how long to wait for servers to stop")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	jwtManager := auth.NewJWTManager(auth.JWTConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		TokenTTL: cfg.TokenTTL,
	})
	authSvc := auth.NewService(auth.Config{
		Users:  store.NewUserStore(),
		JWT:    jwtManager,
		Hasher: auth.NewPasswordHasher(*bcryptCost),
	})

	seq := &model.Sequence{}
	svc := service.NewService(service.Config{
		Logger:   &logger,
		Verifier: authSvc,
		Limiter: ratelimit.NewLimiter(ratelimit.Config{
			MaxEvents: *rateMaxEvents,
			Window:    *rateWindow,
		}),
		Identities: identity.NewRegistry(),
		Rooms: store.NewMemStore(store.StoreConfig{
			HistoryLimit: *roomHistory,
			Sequence:     seq,
		}),
		Conversations: store.NewConversationStore(store.StoreConfig{
			HistoryLimit: *privateHistory,
			Sequence:     seq,
		}),
		Switch:    sw.NewSwitch(&logger),
		TypingTTL: *typingTTL,
	})
	defer svc.Close()

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:        &logger,
		AuthService:   authSvc,
		ListenAddr:    *apiListenAddr,
		AllowedOrigin: cfg.CORSOrigin,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		SessionService: svc,
		ListenAddr:     *wsListenAddr,
		AllowedOrigin:  cfg.CORSOrigin,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(3)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)
	go svc.RunSweeper(ctx, wg, *sweepInterval)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(*shutdownDeadline):
		logger.Error().Msg("shutdown deadline exceeded")
	}
}
