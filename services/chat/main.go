package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorlink/internal/admission"
	"github.com/tutorlink/internal/auth"
	"github.com/tutorlink/internal/config"
	"github.com/tutorlink/internal/events"
	"github.com/tutorlink/internal/handler"
	"github.com/tutorlink/internal/logger"
	"github.com/tutorlink/internal/membership"
	"github.com/tutorlink/internal/middleware"
	"github.com/tutorlink/internal/push"
	"github.com/tutorlink/internal/repository"
	"github.com/tutorlink/internal/retention"
	"github.com/tutorlink/internal/service"
	"github.com/tutorlink/internal/startup"
	"github.com/tutorlink/internal/storage"
	"github.com/tutorlink/internal/storage/memory"
	"github.com/tutorlink/internal/ws"
)

func main() {
	logger.SetPrefix("chat")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting chat service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	// Admission counters live in redis so the limits aggregate across
	// processes. The in-memory store is for dev mode only.
	var admissionStore storage.AdmissionStore
	if *dev {
		admissionStore = memory.New()
		logger.Info("admission counters: in-memory (dev)")
	} else {
		admissionStore = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
	}
	defer admissionStore.Close()

	userRepo := repository.NewUserRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)
	roomRepo := repository.NewRoomRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	threadRepo := repository.NewThreadRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)

	authenticator := auth.NewAuthenticator(tokenRepo, userRepo)

	bus := events.NewBus()
	resolver := membership.NewResolver(roomRepo, profileRepo)
	bus.Subscribe(resolver.HandleEvent)

	admitter := admission.NewController(
		admissionStore,
		cfg.RateLimitMax, cfg.RateLimitWindow,
		cfg.RoomConnectMax, cfg.RoomConnectWindow,
	)

	pushClient := push.NewClient(cfg.PushServiceURL)
	msgService := service.NewMessageService(
		roomRepo, resolver, admitter, msgRepo, threadRepo, userRepo, pushClient,
		cfg.MaxContentLength, cfg.HistoryReplay,
	)
	threadService := service.NewThreadService(roomRepo, resolver, threadRepo)

	hub := ws.NewHub(msgService, ws.Options{
		MaxConns:          cfg.MaxWSConnections,
		SendBufSize:       cfg.WSSendBufferSize,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		WriteTimeout:      cfg.WSWriteTimeout,
		MaxFrameSize:      cfg.WSMaxFrameSize,
	})
	msgService.SetBroadcaster(hub)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	sweeper := retention.NewSweeper(msgRepo, cfg.RetentionCron)
	if err := sweeper.Start(); err != nil {
		logger.Errorf("retention sweeper: %v", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	chatH := handler.NewChatHandler(msgService, threadService)
	wsH := handler.NewWSHandler(hub, msgService, authenticator, admitter,
		cfg.CORSAllowedOrigins, cfg.AuthTimeout, cfg.WSWriteTimeout)
	profileH := handler.NewProfileHandler(profileRepo, bus)
	userH := handler.NewUserHandler(userRepo, tokenRepo)
	pushH := handler.NewPushHandler(pushClient, cfg.PushVAPIDPublicKey)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket upgrades: a compressing ResponseWriter does
	// not implement http.Hijacker and the upgrade would 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	// Token auth happens inside the session state machine, not here.
	r.Get(handler.WSRoute, wsH.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(authenticator))
		r.Post("/api/chat/{roomID}/send_message/", chatH.SendMessage)
		r.Get("/api/chat/{roomID}/messages/", chatH.ListMessages)
		r.Get("/api/chat/{roomID}/audit/", chatH.ListAudit)
		r.Post("/api/chat/{roomID}/read/", chatH.MarkRead)
		r.Post("/api/chat/{roomID}/threads/", chatH.CreateThread)
		r.Get("/api/chat/{roomID}/threads/", chatH.ListThreads)
		r.Put("/api/messages/{messageID}/", chatH.EditMessage)
		r.Delete("/api/messages/{messageID}/", chatH.DeleteMessage)
		r.Post("/api/threads/{threadID}/pin/", chatH.PinThread)
		r.Post("/api/threads/{threadID}/lock/", chatH.LockThread)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/api/push/vapid-public", pushH.VAPIDPublicKey)
	})

	// CRM-facing provisioning, never exposed publicly.
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Post("/internal/users", userH.CreateUser)
		r.Post("/internal/users/{userID}/disable", userH.DisableUser)
		r.Post("/internal/tokens", userH.IssueToken)
		r.Delete("/internal/tokens/{token}", userH.RevokeToken)
		r.Post("/internal/enrollments", profileH.CreateEnrollment)
		r.Post("/internal/tutor-assignments", profileH.CreateTutorAssignment)
		r.Put("/internal/tutor-assignments/{assignmentID}/tutor", profileH.SetAssignmentTutor)
		r.Put("/internal/students/{studentID}/parent", profileH.SetParent)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	files := []string{
		"migrations/001_init.sql",
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			logger.Errorf("read migration %s: %v", f, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", f, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "tutorlink"
		password = "tutorlink_secret"
		database = "tutorlink"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
