package routes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mbolis/fieldsync/model"
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var locationColumns = []string{"reg_name", "prov_name", "city_name", "brgy_name"}

// decodeBody reads a JSON object body into v and also returns its raw top-level members, so
// handlers can tell an absent key from an explicit null.
func decodeBody(r *http.Request, v any) (map[string]json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	raw := map[string]json.RawMessage{}
	if err = json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if v != nil {
		if err = json.Unmarshal(data, v); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// decodeMembers decodes members already split out by decodeBody into v.
func decodeMembers(raw map[string]json.RawMessage, v any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// presentLocation returns the location columns present in raw, mapped to their trimmed value
// or nil when blank.
func presentLocation(raw map[string]json.RawMessage, loc model.Location) (columns []string, values []any) {
	byColumn := map[string]*string{
		"reg_name":  loc.RegName,
		"prov_name": loc.ProvName,
		"city_name": loc.CityName,
		"brgy_name": loc.BrgyName,
	}
	for _, col := range locationColumns {
		if _, ok := raw[col]; !ok {
			continue
		}
		columns = append(columns, col)
		if v := byColumn[col]; v != nil {
			values = append(values, model.Str(*v))
		} else {
			values = append(values, (*string)(nil))
		}
	}
	return
}

func trimLocation(loc model.Location) model.Location {
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		return model.Str(*s)
	}
	return model.Location{
		RegName:  trim(loc.RegName),
		ProvName: trim(loc.ProvName),
		CityName: trim(loc.CityName),
		BrgyName: trim(loc.BrgyName),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

func urlID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return int(f)
}

func queryYear(r *http.Request) (int, bool) {
	year := queryInt(r, "year", time.Now().Year())
	return year, year >= 1900 && year <= 3000
}

const submissionColumns = `
	s.id, s.form_type_id, s.year, s.mapping_id, s.schema_version_id, s.source, s.status,
	s.reg_name, s.prov_name, s.city_name, s.brgy_name,
	s.created_by, s.created_at, s.updated_at, s.submitted_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner, extra ...any) (s model.Submission, err error) {
	dest := []any{
		&s.ID, &s.FormTypeID, &s.Year, &s.MappingID, &s.SchemaVersionID, &s.Source, &s.Status,
		&s.RegName, &s.ProvName, &s.CityName, &s.BrgyName,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt, &s.SubmittedAt,
	}
	err = row.Scan(append(dest, extra...)...)
	return
}

// loadSubmission reads one submission with its form type name; sql.ErrNoRows when absent.
func loadSubmission(ctx context.Context, q queryer, id int64) (model.Submission, error) {
	var name sql.NullString
	s, err := scanSubmission(q.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`, ft.name
		FROM submission s
		LEFT JOIN form_type ft ON ft.id = s.form_type_id
		WHERE s.id = ?`,
		id,
	), &name)
	if err != nil {
		return s, err
	}
	if name.Valid {
		s.FormTypeName = &name.String
	}
	return s, nil
}

// resolveMapping finds the mapping by id when given, else the latest one for
// (formTypeID, year). A missing mapping is not an error: id is nil and mappingJSON is {}.
func resolveMapping(ctx context.Context, q queryer, mappingID *int64, formTypeID int64, year int) (id *int64, mappingJSON json.RawMessage, err error) {
	var row *sql.Row
	if mappingID != nil && *mappingID > 0 {
		row = q.QueryRowContext(ctx, `SELECT id, mapping_json FROM form_mapping WHERE id = ?`, *mappingID)
	} else {
		row = q.QueryRowContext(ctx, `
			SELECT id, mapping_json
			FROM form_mapping
			WHERE form_type_id = ? AND year = ?
			ORDER BY id DESC
			LIMIT 1`,
			formTypeID, year,
		)
	}

	var found int64
	var text string
	err = row.Scan(&found, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &found, rawJSON(text), nil
}

// rawJSON passes stored JSON through, replacing anything malformed with {}.
func rawJSON(text string) json.RawMessage {
	if strings.TrimSpace(text) == "" || !json.Valid([]byte(text)) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(text)
}
