package app

import (
	"database/sql"
	"reflect"
	"strings"

	"github.com/go-chi/oauth"
	"github.com/go-playground/validator/v10"
	"github.com/mbolis/fieldsync/config"
)

type App struct {
	*sql.DB
	*oauth.BearerServer
	config.Config
	Validate *validator.Validate
}

func New(db *sql.DB, bearerServer *oauth.BearerServer, cfg config.Config) App {
	return App{
		DB:           db,
		BearerServer: bearerServer,
		Config:       cfg,
		Validate:     newValidator(),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
