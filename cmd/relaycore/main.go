package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"relaycore/internal/authn"
	"relaycore/internal/collab"
	"relaycore/internal/config"
	"relaycore/internal/delivery"
	"relaycore/internal/fileswarm"
	"relaycore/internal/groupcast"
	"relaycore/internal/keystore"
	"relaycore/internal/observability/logging"
	"relaycore/internal/observability/metrics"
	"relaycore/internal/session"
	"relaycore/internal/store"
	transporthttp "relaycore/internal/transport/http"
	"relaycore/internal/transport/ws"
	"relaycore/internal/writequeue"
)

func main() {
	_ = godotenv.Load()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "relaycore",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	slog.SetDefault(logger)

	logger.Info("starting service")

	metrics.MustRegister("relaycore")

	cfg := config.Load()
	if cfg.TokenSecret == "" {
		logger.Error("RELAY_TOKEN_SECRET is required")
		os.Exit(1)
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	st := store.New(gdb)
	if err := st.AutoMigrate(context.Background()); err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}

	// License gate, checked once at startup. The core never consults it
	// again.
	var license collab.LicenseValidator = collab.NopLicense{}
	if err := license.Validate(context.Background()); err != nil {
		logger.Error("license validation failed", "error", err)
		os.Exit(1)
	}

	queue := writequeue.New(cfg.WriteQueueDepth)
	defer queue.Close()

	pending := session.NewPendingQueue(cfg.PendingSoftCap)
	dir := session.NewDirectory(pending)

	keys := keystore.New(st, queue)
	items := delivery.New(st, queue, dir, cfg.FetchPageMax)
	groups := groupcast.New(st, queue, dir)
	files := fileswarm.NewRegistry(dir, fileswarm.Options{
		ShareRateLimit:  cfg.ShareRateLimit,
		ShareRateWindow: cfg.ShareRateWindow,
		ShareSetMax:     cfg.ShareSetMax,
	})

	auth := authn.New(cfg.TokenSecret, cfg.TokenIssuer, authn.NewStoreResolver(st))

	wsServer := ws.NewServer(auth, dir, keys, items, groups, files, collab.NopPresence{}, collab.NopMeeting{})
	handler := transporthttp.NewRouter(wsServer)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("relaycore listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
