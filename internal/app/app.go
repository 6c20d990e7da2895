package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/3eLLenKa/reviewdesk/internal/config"
	"github.com/3eLLenKa/reviewdesk/internal/delivery/http/handlers"
	"github.com/3eLLenKa/reviewdesk/internal/delivery/http/middleware"
	"github.com/3eLLenKa/reviewdesk/internal/delivery/http/server"
	"github.com/3eLLenKa/reviewdesk/internal/notify"
	"github.com/3eLLenKa/reviewdesk/internal/queue"
	"github.com/3eLLenKa/reviewdesk/internal/repository"
	"github.com/3eLLenKa/reviewdesk/internal/repository/memory"
	"github.com/3eLLenKa/reviewdesk/internal/repository/postgres"
	"github.com/3eLLenKa/reviewdesk/internal/service"
)

type App struct {
	Server     *server.Server
	Dispatcher *notify.Dispatcher

	log    *slog.Logger
	close  func() error
	cancel context.CancelFunc
	done   chan struct{}
}

type storage struct {
	tx       service.Transactor
	reviewer interface {
		service.ReviewerRepo
		notify.Directory
	}
	project service.ProjectRepo
	audit   service.AuditRepo
	outbox  notify.Outbox
	close   func() error
}

func NewApp(cfg *config.Config, log *slog.Logger) *App {
	st, err := openStorage(cfg, log)
	if err != nil {
		panic(err)
	}

	var mailer notify.Mailer = notify.NewLogMailer(log)
	if cfg.Mail.Enabled() {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:          cfg.Mail.Host,
			Port:          cfg.Mail.Port,
			User:          cfg.Mail.User,
			Password:      cfg.Mail.Password,
			From:          cfg.Mail.From,
			SkipTLSVerify: cfg.Mail.SkipTLSVerify,
		})
	}

	dispatcher := notify.New(log, st.outbox, st.reviewer, mailer, notify.Config{
		Workers:      cfg.Dispatcher.Workers,
		PollInterval: cfg.Dispatcher.PollInterval,
		BatchSize:    cfg.Dispatcher.BatchSize,
		RetryBackoff: cfg.Dispatcher.RetryBackoff,
	})

	svc := service.New(log, st.tx, st.reviewer, st.project, st.audit, dispatcher, queue.Policy(cfg.Assignment.BusyPolicy))

	gin.SetMode(cfg.App.GinMode)
	router := NewRouter(log, handlers.NewHandlers(log, svc), cfg.Auth)

	addr := ":" + cfg.App.Port

	httpServer := server.New(addr, router)

	return &App{
		Server:     httpServer,
		Dispatcher: dispatcher,
		log:        log,
		close:      st.close,
		done:       make(chan struct{}),
	}
}

// NewRouter mounts the API behind bearer auth. /healthz stays public.
func NewRouter(log *slog.Logger, h *handlers.Handlers, auth config.Auth) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLog(log))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/", middleware.Auth(auth.JWTSecret, auth.Issuer))
	h.Register(api)

	return router
}

func openStorage(cfg *config.Config, log *slog.Logger) (*storage, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("using in-memory storage, data is lost on restart")
		store := memory.New()
		return &storage{
			tx:       store,
			reviewer: store.Reviewers(),
			project:  store.Projects(),
			audit:    store.Audit(),
			outbox:   store.Outbox(),
			close:    func() error { return nil },
		}, nil
	}

	pg, err := postgres.New(cfg.Database.DSN(), postgres.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	if err := postgres.Migrate(context.Background(), pg.Db, cfg.Migrations.Dir, log); err != nil {
		pg.Close()
		return nil, err
	}

	repo := repository.New(pg.Db)
	return &storage{
		tx:       pg,
		reviewer: repo.Reviewer,
		project:  repo.Project,
		audit:    repo.Audit,
		outbox:   repo.Outbox,
		close:    pg.Close,
	}, nil
}

// StartDispatcher runs notification delivery in the background until Stop.
func (a *App) StartDispatcher() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		defer close(a.done)
		a.Dispatcher.Run(ctx)
	}()
}

func (a *App) Stop(ctx context.Context) {
	a.Server.Stop(ctx)

	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-ctx.Done():
			a.log.Warn("app.Stop: dispatcher did not stop in time")
		}
	}

	if err := a.close(); err != nil {
		a.log.Error("app.Stop: failed to close storage", slog.Any("error", err))
	}
}
