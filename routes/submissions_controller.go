package routes

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/mbolis/fieldsync/answer"
	"github.com/mbolis/fieldsync/app"
	"github.com/mbolis/fieldsync/httpx"
	"github.com/mbolis/fieldsync/log"
	"github.com/mbolis/fieldsync/model"
	"github.com/mbolis/fieldsync/routes/middlewares"
)

const maxSourceLen = 20

func CreateSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middlewares.User(r)
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "create_submission.user")
			return
		}

		req := model.CreateSubmissionRequest{}
		if _, err := decodeBody(r, &req); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if err := app.Validate.Struct(req); err != nil {
			httpx.LogValidationError(w, r, "create_submission.validate", err)
			return
		}

		source := strings.TrimSpace(req.Source)
		if source == "" {
			source = "mobile"
		}
		source = truncate(source, maxSourceLen)

		mappingID, mappingJSON, err := resolveMapping(r.Context(), app, req.MappingID, int64(req.FormTypeID), req.Year)
		if err != nil {
			httpx.LogInternalError(w, "db.create_submission.mapping", err)
			return
		}

		var schemaVersionID *int64
		if req.SchemaVersionID != nil && *req.SchemaVersionID > 0 {
			schemaVersionID = req.SchemaVersionID
		}

		loc := trimLocation(req.Location)
		now := time.Now().UTC()
		var id int64
		err = app.QueryRowContext(r.Context(), `
			INSERT INTO submission (
				form_type_id, schema_version_id, mapping_id, year, source, status, created_by,
				reg_name, prov_name, city_name, brgy_name, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, 'draft', ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			req.FormTypeID, schemaVersionID, mappingID, req.Year, source, user.ID,
			loc.RegName, loc.ProvName, loc.CityName, loc.BrgyName, now, now,
		).Scan(&id)
		if err != nil {
			httpx.LogInternalError(w, "db.create_submission.insert", err)
			return
		}

		submission, err := loadSubmission(r.Context(), app, id)
		if err != nil {
			httpx.LogInternalError(w, "db.create_submission.reload", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, model.CreateSubmissionResponse{
			Submission:  submission,
			MappingJSON: mappingJSON,
		})
	}
}

func GetSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r)
		if err != nil {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "request.get_url_param.id", "invalid id")
			return
		}

		submission, err := loadSubmission(r.Context(), app, id)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_submission", id)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_submission", err)
			return
		}

		_, mappingJSON, err := resolveMapping(r.Context(), app, submission.MappingID, submission.FormTypeID, submission.Year)
		if err != nil {
			httpx.LogInternalError(w, "db.get_submission.mapping", err)
			return
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT
				submission_id, form_type_id, year, field_key,
				label, type, option_key, option_label,
				value_text, value_number, value_bool, value_json
			FROM submission_answer
			WHERE submission_id = ?
			ORDER BY field_key ASC`,
			id,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_submission.answers", err)
			return
		}
		defer rows.Close()

		answers := []model.Answer{}
		human := []model.HumanAnswer{}
		for rows.Next() {
			a := model.Answer{}
			var valueJSON sql.NullString
			err = rows.Scan(
				&a.SubmissionID, &a.FormTypeID, &a.Year, &a.FieldKey,
				&a.Label, &a.Type, &a.OptionKey, &a.OptionLabel,
				&a.ValueText, &a.ValueNumber, &a.ValueBool, &valueJSON,
			)
			if err != nil {
				httpx.LogInternalError(w, "db.get_submission.answers.scan", err)
				return
			}
			if valueJSON.Valid && json.Valid([]byte(valueJSON.String)) {
				a.ValueJSON = json.RawMessage(valueJSON.String)
			}

			answers = append(answers, a)
			human = append(human, answer.Human(a))
		}
		if err = rows.Err(); err != nil {
			httpx.LogInternalError(w, "db.get_submission.answers.next", err)
			return
		}

		render.JSON(w, r, model.SubmissionDetail{
			Submission:   submission,
			MappingJSON:  mappingJSON,
			Answers:      answers,
			AnswersHuman: human,
		})
	}
}

func UpdateSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r)
		if err != nil {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "request.get_url_param.id", "invalid id")
			return
		}

		req := model.UpdateSubmissionRequest{}
		raw, err := decodeBody(r, &req)
		if err != nil {
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
			httpx.LogNotFound(w, "update_submission", id)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.update_submission.get", err)
			return
		}

		var sets []string
		var args []any

		if req.Status != nil && strings.TrimSpace(string(*req.Status)) != "" {
			next := model.Status(strings.TrimSpace(string(*req.Status)))
			if err = model.ValidateTransition(submission.Status, next); err != nil {
				var te *model.TransitionError
				errors.As(err, &te)
				httpx.LogStatusJSON(w, r, http.StatusUnprocessableEntity, log.DebugLevel, "update_submission.status", err.Error(), map[string]any{
					"from":    te.From,
					"to":      te.To,
					"allowed": te.Allowed,
				})
				return
			}
			sets = append(sets, "status = ?")
			args = append(args, next)
		}
		if req.Source != nil && strings.TrimSpace(*req.Source) != "" {
			sets = append(sets, "source = ?")
			args = append(args, truncate(strings.TrimSpace(*req.Source), maxSourceLen))
		}
		columns, values := presentLocation(raw, req.Location)
		for i, col := range columns {
			sets = append(sets, col+" = ?")
			args = append(args, values[i])
		}

		if len(sets) == 0 {
			render.JSON(w, r, submission)
			return
		}

		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().UTC(), id)
		_, err = tx.ExecContext(r.Context(), `UPDATE submission SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			httpx.LogInternalError(w, "db.update_submission.update", err)
			return
		}

		submission, err = loadSubmission(r.Context(), tx, id)
		if err != nil {
			httpx.LogInternalError(w, "db.update_submission.reload", err)
			return
		}

		if err = tx.Commit(); err != nil {
			httpx.LogInternalError(w, "db.update_submission.commit", err)
			return
		}

		render.JSON(w, r, submission)
	}
}

// SubmitSubmission finalizes a submission. Submitting twice returns the row unchanged.
func SubmitSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r)
		if err != nil {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "request.get_url_param.id", "invalid id")
			return
		}

		submission, err := loadSubmission(r.Context(), app, id)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "submit_submission", id)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.submit_submission.get", err)
			return
		}

		if submission.Status == model.StatusSubmitted {
			log.Debugf("submit_submission: %d already submitted", id)
			render.JSON(w, r, submission)
			return
		}

		if missing := submission.Location.Missing(true); len(missing) > 0 {
			httpx.LogStatusJSON(w, r, http.StatusUnprocessableEntity, log.DebugLevel, "submit_submission.location",
				"location is required before submit", map[string]any{"missing": missing})
			return
		}

		now := time.Now().UTC()
		_, err = app.ExecContext(r.Context(), `
			UPDATE submission
			SET status = 'submitted', submitted_at = ?, updated_at = ?
			WHERE id = ? AND status <> 'submitted'`,
			now, now, id,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.submit_submission.update", err)
			return
		}

		submission, err = loadSubmission(r.Context(), app, id)
		if err != nil {
			httpx.LogInternalError(w, "db.submit_submission.reload", err)
			return
		}

		render.JSON(w, r, submission)
	}
}

func ListSubmissions(app app.App) http.HandlerFunc {
	return listSubmissions(app, false)
}

// MySubmissions lists the submissions created by the caller.
func MySubmissions(app app.App) http.HandlerFunc {
	return listSubmissions(app, true)
}

func listSubmissions(app app.App, mine bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var where []string
		var args []any
		add := func(cond string, v any) {
			where = append(where, cond)
			args = append(args, v)
		}

		if mine {
			user, ok := middlewares.User(r)
			if !ok {
				httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "my_submissions.user")
				return
			}
			add("s.created_by = ?", user.ID)
		}

		if v := queryInt(r, "form_type_id", 0); v > 0 {
			add("s.form_type_id = ?", v)
		}
		if v := queryInt(r, "year", 0); v > 0 {
			add("s.year = ?", v)
		}
		for _, col := range append([]string{"status", "source"}, locationColumns...) {
			if v := strings.TrimSpace(r.URL.Query().Get(col)); v != "" {
				add("s."+col+" = ?", v)
			}
		}

		whereSQL := ""
		if len(where) > 0 {
			whereSQL = "WHERE " + strings.Join(where, " AND ")
		}

		var total int
		err := app.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM submission s `+whereSQL, args...).Scan(&total)
		if err != nil {
			httpx.LogInternalError(w, "db.list_submissions.count", err)
			return
		}

		p := resolvePaging(r)
		rows, err := app.QueryContext(r.Context(), `
			SELECT `+submissionColumns+`,
				ft.name,
				(SELECT COUNT(*) FROM submission_answer a WHERE a.submission_id = s.id)
			FROM submission s
			LEFT JOIN form_type ft ON ft.id = s.form_type_id
			`+whereSQL+`
			ORDER BY s.id DESC
			LIMIT ? OFFSET ?`,
			append(args, p.PerPage, p.Offset)...,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.list_submissions", err)
			return
		}
		defer rows.Close()

		data := []model.Submission{}
		for rows.Next() {
			var name sql.NullString
			var count int
			s, err := scanSubmission(rows, &name, &count)
			if err != nil {
				httpx.LogInternalError(w, "db.list_submissions.scan", err)
				return
			}
			if name.Valid {
				s.FormTypeName = &name.String
			}
			s.AnswersCount = &count
			data = append(data, s)
		}
		if err = rows.Err(); err != nil {
			httpx.LogInternalError(w, "db.list_submissions.next", err)
			return
		}

		render.JSON(w, r, model.SubmissionPage{Data: data, Meta: p.meta(total)})
	}
}
