package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayoubkefii/e-learning/internal/app"
	"github.com/ayoubkefii/e-learning/internal/auth"
	"github.com/ayoubkefii/e-learning/internal/config"
	"github.com/ayoubkefii/e-learning/internal/domain"
	"github.com/ayoubkefii/e-learning/internal/infra/memory"
	"github.com/ayoubkefii/e-learning/internal/infra/postgres"
	rediscache "github.com/ayoubkefii/e-learning/internal/infra/redis"
	"github.com/ayoubkefii/e-learning/internal/logging"
	transport "github.com/ayoubkefii/e-learning/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	authn, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var (
		loader memory.AnswerKeyLoader = memory.NewStaticAnswerKeyLoader(sampleAnswerKeys())
		uow    app.UnitOfWork         = memory.NewStore()
	)
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		db := postgres.OpenDB(cfg.Postgres.URL)
		defer db.Close()

		loader = postgres.NewAnswerKeyLoader(pool)
		uow = postgres.NewStore(db)
	} else {
		log.Warn("postgres not configured; using in-memory store with sample quizzes")
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var keys app.AnswerKeyRepository
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		keys = rediscache.NewAnswerKeyCache(redisClient, loader, quizTTL)
	} else {
		keys = memory.NewAnswerKeyCache(loader, quizTTL)
	}

	service := app.NewAttemptService(keys, uow, app.NewCertificateIssuer(), log.Named("attempts"))

	mux := http.NewServeMux()
	transport.NewHandler(service, authn, log.Named("http")).Register(mux)
	mux.HandleFunc("GET /ws", transport.NewWSHandler(service, authn, log.Named("ws")).ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting e-learning service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleAnswerKeys backs the server when no database is configured.
func sampleAnswerKeys() map[int64]domain.AnswerKey {
	return map[int64]domain.AnswerKey{
		1: {
			Quiz: domain.Quiz{ID: 1, CourseID: 1, Title: "Arithmetic basics", PassingScore: 50},
			Questions: []domain.Question{
				{
					ID: 1, QuizID: 1, Type: "multiple_choice", Points: 1,
					Options: []domain.Option{
						{ID: 1, QuestionID: 1, Correct: false},
						{ID: 2, QuestionID: 1, Correct: true},
						{ID: 3, QuestionID: 1, Correct: false},
					},
				},
				{
					ID: 2, QuizID: 1, Type: "true_false", Points: 2,
					Options: []domain.Option{
						{ID: 4, QuestionID: 2, Correct: true},
						{ID: 5, QuestionID: 2, Correct: false},
					},
				},
			},
		},
	}
}
