package routes

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/mbolis/fieldsync/app"
	"github.com/mbolis/fieldsync/httpx"
	"github.com/mbolis/fieldsync/log"
	"github.com/mbolis/fieldsync/model"
)

// ListFormTypes returns active form types, each with its active schema versions for ?year=
// (default: the current year).
func ListFormTypes(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, ok := queryYear(r)
		if !ok {
			httpx.LogStatusJSON(w, r, http.StatusBadRequest, log.DebugLevel, "list_form_types.year", "year must be a valid year", nil)
			return
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT
				ft.id, ft."key", ft.name, ft.sector_key, ft.description,
				v.id, v.year, v.version, v.status, v.schema_json, v.ui_json
			FROM form_type ft
			LEFT OUTER JOIN form_schema_version v
				ON (v.form_type_id = ft.id AND v.status = 'active' AND v.year = ?)
			WHERE ft.is_active = 1
			ORDER BY ft.sector_key ASC, ft.name ASC, ft.id ASC, v.id DESC`,
			year,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.list_form_types", err)
			return
		}
		defer rows.Close()

		formTypes := []model.FormType{}
		for rows.Next() {
			ft := model.FormType{}
			var vID, vYear, vVersion sql.NullInt64
			var vStatus, vSchema, vUI sql.NullString
			err = rows.Scan(
				&ft.ID, &ft.Key, &ft.Name, &ft.SectorKey, &ft.Description,
				&vID, &vYear, &vVersion, &vStatus, &vSchema, &vUI,
			)
			if err != nil {
				httpx.LogInternalError(w, "db.list_form_types.scan", err)
				return
			}

			if n := len(formTypes); n == 0 || formTypes[n-1].ID != ft.ID {
				ft.SchemaVersions = []model.SchemaVersion{}
				formTypes = append(formTypes, ft)
			}
			if vID.Valid {
				last := &formTypes[len(formTypes)-1]
				last.SchemaVersions = append(last.SchemaVersions, model.SchemaVersion{
					ID:         vID.Int64,
					FormTypeID: ft.ID,
					Year:       int(vYear.Int64),
					Version:    int(vVersion.Int64),
					Status:     vStatus.String,
					SchemaJSON: rawJSON(vSchema.String),
					UIJSON:     rawJSON(vUI.String),
				})
			}
		}
		if err = rows.Err(); err != nil {
			httpx.LogInternalError(w, "db.list_form_types.next", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"form_types": formTypes,
		})
	}
}

// GetActiveSchema returns the newest active schema version of a form type for ?year=.
func GetActiveSchema(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formTypeID, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}
		year, ok := queryYear(r)
		if !ok {
			httpx.LogStatusJSON(w, r, http.StatusBadRequest, log.DebugLevel, "get_active_schema.year", "year must be a valid year", nil)
			return
		}

		sv := model.SchemaVersion{}
		var schemaJSON, uiJSON string
		err = app.QueryRowContext(r.Context(), `
			SELECT id, form_type_id, year, version, status, schema_json, ui_json
			FROM form_schema_version
			WHERE form_type_id = ? AND year = ? AND status = 'active'
			ORDER BY id DESC
			LIMIT 1`,
			formTypeID, year,
		).Scan(&sv.ID, &sv.FormTypeID, &sv.Year, &sv.Version, &sv.Status, &schemaJSON, &uiJSON)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_active_schema", formTypeID)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_active_schema", err)
			return
		}
		sv.SchemaJSON = rawJSON(schemaJSON)
		sv.UIJSON = rawJSON(uiJSON)

		render.JSON(w, r, sv)
	}
}

// GetFormMapping returns the latest mapping for ?form_type_id= and ?year=.
func GetFormMapping(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formTypeID := queryInt(r, "form_type_id", 0)
		if formTypeID < 1 {
			httpx.LogStatusJSON(w, r, http.StatusBadRequest, log.DebugLevel, "get_form_mapping.form_type_id",
				"form_type_id is required and must be a positive integer", nil)
			return
		}
		if strings.TrimSpace(r.URL.Query().Get("year")) == "" {
			httpx.LogStatusJSON(w, r, http.StatusBadRequest, log.DebugLevel, "get_form_mapping.year", "year is required", nil)
			return
		}
		year, ok := queryYear(r)
		if !ok {
			httpx.LogStatusJSON(w, r, http.StatusBadRequest, log.DebugLevel, "get_form_mapping.year", "year must be a valid year", nil)
			return
		}

		m := model.Mapping{}
		var mappingJSON string
		err := app.QueryRowContext(r.Context(), `
			SELECT id, form_type_id, year, mapping_json
			FROM form_mapping
			WHERE form_type_id = ? AND year = ?
			ORDER BY id DESC
			LIMIT 1`,
			formTypeID, year,
		).Scan(&m.ID, &m.FormTypeID, &m.Year, &mappingJSON)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_form_mapping", formTypeID)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form_mapping", err)
			return
		}
		m.MappingJSON = rawJSON(mappingJSON)

		render.JSON(w, r, m)
	}
}
