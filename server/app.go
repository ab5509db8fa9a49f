package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"devbook/config"
	"devbook/internal/admin"
	"devbook/internal/booking"
	"devbook/internal/bot"
	"devbook/internal/db"
	"devbook/internal/health"
	"devbook/internal/logs"
	"devbook/internal/middleware"
	"devbook/internal/registry"
	"devbook/internal/repo"
	"devbook/internal/session"
	"devbook/internal/storage"
	"devbook/internal/telegram"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	history    *repo.HistoryStore
	store      *storage.Store
	booking    *booking.Service
	sweeper    *booking.Sweeper
	bot        *bot.Router
	tg         *telegram.Client
	Router     *mux.Router
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) error {
	a.cfg = cfg

	/* 1) Логи */
	if err := logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	}); err != nil {
		return err
	}

	/* 2) Данные */
	st, err := storage.Open(a.cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("storage open: %w", err)
	}
	a.store = st

	/* 3) Зеркало истории (опционально) */
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		hs := repo.NewHistoryStore(d)
		if err := hs.Migrate(); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
		hs.Attach(st)
		a.db = d
		a.history = hs
	}

	/* 4) Домен */
	reg := registry.New(st)
	a.booking = booking.NewService(st)
	a.sweeper = booking.NewSweeper(a.booking, a.cfg.Booking.SweepInterval)
	a.bot = bot.New(reg, a.booking, session.NewManager())

	/* 5) Telegram */
	tg, err := telegram.New(telegram.Options{
		Token:       a.cfg.Telegram.Token,
		Debug:       a.cfg.Telegram.Debug,
		PollTimeout: a.cfg.Telegram.PollTimeout,
	})
	if err != nil {
		return err
	}
	a.tg = tg
	reg.SetNotifier(tg)
	reg.SetLookup(tg)
	a.booking.SetNotifier(tg)
	a.bot.SetNotifier(tg)
	a.bot.SetFiles(tg)

	/* 6) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)
	health.RegisterRoutes(a.Router, health.Checks{DataDir: st.Dir(), DB: a.db})
	a.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if a.cfg.HTTP.AdminToken != "" {
		deps := admin.Dependencies{
			Registry: reg,
			Booking:  a.booking,
			Token:    a.cfg.HTTP.AdminToken,
		}
		if a.history != nil {
			deps.History = a.history
		}
		admin.Attach(a.Router, deps)
	}

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := rt.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		logs.Logger.WithFields(logrus.Fields{"methods": methods, "path": path}).Debug("route")
		return nil
	})
	return nil
}

// Run поднимает HTTP (если задан http.port), фоновую очистку и long polling,
// и ждёт SIGINT/SIGTERM.
func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	defer a.cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigs:
			logs.Logger.Infof("shutdown signal: %s", s)
			a.cancel()
		case <-a.ctx.Done():
		}
	}()

	if a.cfg.HTTP.Port != "" {
		bind := net.JoinHostPort(a.cfg.HTTP.Address, a.cfg.HTTP.Port)
		a.httpServer = &http.Server{
			Addr:              bind,
			Handler:           a.Router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			logs.Logger.Infof("HTTP listening on %s", bind)
			if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logs.Logger.Errorf("http server error: %v", err)
				a.cancel()
			}
		}()
	}

	a.sweeper.Start(a.ctx)

	err := a.tg.Run(a.ctx, a.bot)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.cancel()

	a.sweeper.Stop()
	a.booking.Scheduler().Stop()
	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logs.Logger.Errorf("http shutdown: %v", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	logs.Logger.Info("stopped")
	return err
}
