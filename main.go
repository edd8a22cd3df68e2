package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mbolis/fieldsync/app"
	"github.com/mbolis/fieldsync/config"
	"github.com/mbolis/fieldsync/database"
	"github.com/mbolis/fieldsync/httpx"
	"github.com/mbolis/fieldsync/log"
	"github.com/mbolis/fieldsync/routes"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("main.config:", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	db, err := database.Open(cfg.DBUrl)
	if err != nil {
		log.Fatal("main.db.open:", err)
	}
	defer db.Close()

	if cfg.AdminUser != "" {
		_, err = database.UpsertUser(context.Background(), db, cfg.AdminUser, cfg.AdminUser, cfg.AdminPassword, database.RoleAdmin)
		if err != nil {
			log.Fatal("main.db.admin_user:", err)
		}
		log.Infof("admin user %q ready", cfg.AdminUser)
	}

	bearerServer := httpx.NewBearerServer(db, cfg)

	handler := routes.Wire(app.New(db, bearerServer, cfg))

	err = runServer(cfg, handler)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("main.server:", err)
	}
}

func runServer(cfg config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Info("Listening on " + cfg.Url())
	return srv.ListenAndServe()
}
