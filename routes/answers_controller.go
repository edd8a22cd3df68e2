package routes

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/mbolis/fieldsync/answer"
	"github.com/mbolis/fieldsync/app"
	"github.com/mbolis/fieldsync/httpx"
	"github.com/mbolis/fieldsync/log"
	"github.com/mbolis/fieldsync/model"
)

// UpsertAnswers saves answers and any location keys present in one transaction. In submit mode
// an incomplete location fails the whole call and nothing is written.
func UpsertAnswers(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r)
		if err != nil {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "request.get_url_param.id", "invalid id")
			return
		}

		raw, err := decodeBody(r, nil)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if a := strings.TrimSpace(string(raw["answers"])); !strings.HasPrefix(a, "{") {
			httpx.LogStatusJSON(w, r, http.StatusUnprocessableEntity, log.DebugLevel, "upsert_answers.answers", "answers must be an object", nil)
			return
		}
		req := model.UpsertAnswersRequest{}
		if err = decodeMembers(raw, &req); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		submission, err := loadSubmission(r.Context(), tx, id)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "upsert_answers", id)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.upsert_answers.get", err)
			return
		}

		columns, values := presentLocation(raw, req.Location)
		if len(columns) > 0 {
			sets := make([]string, len(columns))
			for i, col := range columns {
				sets[i] = col + " = ?"
			}
			args := append(values, time.Now().UTC(), id)
			_, err = tx.ExecContext(r.Context(), `UPDATE submission SET `+strings.Join(sets, ", ")+`, updated_at = ? WHERE id = ?`, args...)
			if err != nil {
				httpx.LogInternalError(w, "db.upsert_answers.location", err)
				return
			}
			submission, err = loadSubmission(r.Context(), tx, id)
			if err != nil {
				httpx.LogInternalError(w, "db.upsert_answers.reload", err)
				return
			}
		}

		if req.Mode == model.ModeSubmit {
			if missing := submission.Location.Missing(true); len(missing) > 0 {
				httpx.LogStatusJSON(w, r, http.StatusUnprocessableEntity, log.DebugLevel, "upsert_answers.location",
					"location is required before submit", map[string]any{"missing": missing})
				return
			}
		}

		_, mappingJSON, err := resolveMapping(r.Context(), tx, submission.MappingID, submission.FormTypeID, submission.Year)
		if err != nil {
			httpx.LogInternalError(w, "db.upsert_answers.mapping", err)
			return
		}
		allowed := mappingKeys(mappingJSON)

		stmt, err := tx.PrepareContext(r.Context(), `
			INSERT INTO submission_answer (
				submission_id, form_type_id, year, field_key,
				label, type, option_key, option_label,
				value_text, value_number, value_bool, value_json, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (submission_id, field_key) DO UPDATE SET
				form_type_id = excluded.form_type_id,
				year = excluded.year,
				label = COALESCE(excluded.label, label),
				type = COALESCE(excluded.type, type),
				option_key = COALESCE(excluded.option_key, option_key),
				option_label = COALESCE(excluded.option_label, option_label),
				value_text = excluded.value_text,
				value_number = excluded.value_number,
				value_bool = excluded.value_bool,
				value_json = excluded.value_json,
				updated_at = excluded.updated_at`)
		if err != nil {
			httpx.LogInternalError(w, "db.upsert_answers.prepare", err)
			return
		}
		defer stmt.Close()

		keys := make([]string, 0, len(req.Answers))
		for k := range req.Answers {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		result := model.UpsertAnswersResult{Rejected: []string{}}
		now := time.Now().UTC()
		for _, key := range keys {
			if allowed != nil && !allowed[key] {
				result.Rejected = append(result.Rejected, key)
				continue
			}

			rec := answer.Resolve(key, req.Answers[key], req.Snapshots[key])
			slots := rec.Slots()
			var valueJSON *string
			if slots.JSON != nil {
				s := string(slots.JSON)
				valueJSON = &s
			}

			_, err = stmt.ExecContext(r.Context(),
				id, submission.FormTypeID, submission.Year, key,
				rec.Snapshot.Label, rec.Snapshot.Type, rec.Snapshot.OptionKey, rec.Snapshot.OptionLabel,
				slots.Text, slots.Number, slots.Bool, valueJSON, now,
			)
			if err != nil {
				httpx.LogInternalError(w, "db.upsert_answers.insert", err)
				return
			}
			result.Updated++
		}

		if err = tx.Commit(); err != nil {
			httpx.LogInternalError(w, "db.upsert_answers.commit", err)
			return
		}

		log.Debugf("upsert_answers: submission %d, %d updated, %d rejected", id, result.Updated, len(result.Rejected))
		render.JSON(w, r, result)
	}
}

// mappingKeys returns the top-level keys of a mapping object, or nil when the mapping is not
// an object or has no keys, in which case every answer is accepted.
func mappingKeys(mappingJSON json.RawMessage) map[string]bool {
	var obj map[string]json.RawMessage
	if json.Unmarshal(mappingJSON, &obj) != nil || len(obj) == 0 {
		return nil
	}
	keys := make(map[string]bool, len(obj))
	for k := range obj {
		keys[k] = true
	}
	return keys
}
