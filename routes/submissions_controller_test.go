package routes

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mbolis/fieldsync/model"
)

func createSubmission(t *testing.T, ts *testServer, body map[string]any) model.Submission {
	t.Helper()
	var res model.CreateSubmissionResponse
	if status := ts.do(t, http.MethodPost, "/api/submissions", body, &res); status != http.StatusCreated {
		t.Fatalf("create: status %d", status)
	}
	return res.Submission
}

func TestSubmissionScenario(t *testing.T) {
	ts := newTestServer(t)
	ts.exec(t, `INSERT INTO form_type (id, "key", name) VALUES (3, 'hh', 'Household')`)

	s := createSubmission(t, ts, map[string]any{
		"form_type_id": 3, "year": 2024, "prov_name": "Laguna", "city_name": "Calamba",
	})
	if s.Status != model.StatusDraft || s.Source != "mobile" || *s.FormTypeName != "Household" {
		t.Errorf("unexpected submission %+v", s)
	}

	var upsert model.UpsertAnswersResult
	status := ts.do(t, http.MethodPut, "/api/submissions/"+itoa(s.ID)+"/answers", map[string]any{
		"mode":      "draft",
		"answers":   map[string]any{"q1": "yes"},
		"snapshots": map[string]any{"q1": map[string]any{"type": "radio", "option_key": "y", "option_label": "Yes"}},
	}, &upsert)
	if status != http.StatusOK {
		t.Fatalf("upsert: status %d", status)
	}
	if diff := cmp.Diff(model.UpsertAnswersResult{Updated: 1, Rejected: []string{}}, upsert); diff != "" {
		t.Errorf("upsert mismatch (-want +got):\n%s", diff)
	}

	var failed struct {
		Missing []string `json:"missing"`
	}
	if status = ts.do(t, http.MethodPost, "/api/submissions/"+itoa(s.ID)+"/submit", nil, &failed); status != http.StatusUnprocessableEntity {
		t.Fatalf("submit without barangay: status %d", status)
	}
	if diff := cmp.Diff([]string{"brgy_name"}, failed.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}

	var patched model.Submission
	if status = ts.do(t, http.MethodPatch, "/api/submissions/"+itoa(s.ID), map[string]any{"brgy_name": "Real"}, &patched); status != http.StatusOK {
		t.Fatalf("patch: status %d", status)
	}

	var submitted model.Submission
	if status = ts.do(t, http.MethodPost, "/api/submissions/"+itoa(s.ID)+"/submit", nil, &submitted); status != http.StatusOK {
		t.Fatalf("submit: status %d", status)
	}
	if submitted.Status != model.StatusSubmitted || submitted.SubmittedAt == nil {
		t.Errorf("unexpected submitted row %+v", submitted)
	}

	var again model.Submission
	if status = ts.do(t, http.MethodPost, "/api/submissions/"+itoa(s.ID)+"/submit", nil, &again); status != http.StatusOK {
		t.Fatalf("second submit: status %d", status)
	}
	if !again.SubmittedAt.Equal(*submitted.SubmittedAt) {
		t.Errorf("submitted_at re-stamped: %s then %s", submitted.SubmittedAt, again.SubmittedAt)
	}
}

func TestCreateSubmissionValidation(t *testing.T) {
	ts := newTestServer(t)

	var failed struct {
		Errors map[string]string `json:"errors"`
	}
	ts.do(t, http.MethodPost, "/api/submissions", map[string]any{"year": 1999}, &failed)
	if diff := cmp.Diff(map[string]string{"form_type_id": "required", "year": "min"}, failed.Errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}

	for _, body := range []map[string]any{
		{"year": 2024},
		{"form_type_id": 0, "year": 2024},
		{"form_type_id": 1, "year": 1999},
		{"form_type_id": 1, "year": 2101},
	} {
		if status := ts.do(t, http.MethodPost, "/api/submissions", body, nil); status != http.StatusUnprocessableEntity {
			t.Errorf("%v: expected 422, got %d", body, status)
		}
	}
}

func TestCreateSubmissionResolvesLatestMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.exec(t, `INSERT INTO form_type (id, "key", name) VALUES (3, 'hh', 'Household')`)
	ts.exec(t, `INSERT INTO form_mapping (form_type_id, year, mapping_json) VALUES (3, 2024, '{"old":[]}')`)
	latest := ts.exec(t, `INSERT INTO form_mapping (form_type_id, year, mapping_json) VALUES (3, 2024, '{"q1":[]}')`)

	var res struct {
		Submission  model.Submission `json:"submission"`
		MappingJSON map[string]any   `json:"mapping_json"`
	}
	status := ts.do(t, http.MethodPost, "/api/submissions", map[string]any{
		"form_type_id": 3, "year": 2024, "source": "  a-very-long-source-name-indeed  ",
	}, &res)
	if status != http.StatusCreated {
		t.Fatalf("status %d", status)
	}
	if res.Submission.MappingID == nil || *res.Submission.MappingID != latest {
		t.Errorf("expected mapping %d, got %v", latest, res.Submission.MappingID)
	}
	if _, ok := res.MappingJSON["q1"]; !ok {
		t.Errorf("expected latest mapping json, got %v", res.MappingJSON)
	}
	if res.Submission.Source != "a-very-long-source-n" {
		t.Errorf("expected source truncated to 20 chars, got %q", res.Submission.Source)
	}
}

func TestUpdateSubmissionStatusRules(t *testing.T) {
	ts := newTestServer(t)
	s := createSubmission(t, ts, map[string]any{
		"form_type_id": 1, "year": 2024, "prov_name": "P", "city_name": "C", "brgy_name": "B",
	})
	path := "/api/submissions/" + itoa(s.ID)

	var invalid struct {
		Allowed []string `json:"allowed"`
	}
	if status := ts.do(t, http.MethodPatch, path, map[string]any{"status": "archived"}, &invalid); status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown status, got %d", status)
	}
	if diff := cmp.Diff([]string{"draft", "reviewed", "rejected", "submitted"}, invalid.Allowed); diff != "" {
		t.Errorf("allowed mismatch (-want +got):\n%s", diff)
	}

	if status := ts.do(t, http.MethodPost, path+"/submit", nil, nil); status != http.StatusOK {
		t.Fatalf("submit: %d", status)
	}
	for _, to := range []string{"draft", "submitted"} {
		if status := ts.do(t, http.MethodPatch, path, map[string]any{"status": to}, nil); status != http.StatusUnprocessableEntity {
			t.Errorf("submitted -> %s: expected 422, got %d", to, status)
		}
	}

	var reviewed model.Submission
	if status := ts.do(t, http.MethodPatch, path, map[string]any{"status": "reviewed"}, &reviewed); status != http.StatusOK {
		t.Fatalf("submitted -> reviewed: %d", status)
	}
	if reviewed.Status != model.StatusReviewed {
		t.Errorf("expected reviewed, got %s", reviewed.Status)
	}
}

func TestUpdateSubmissionLeavesAbsentLocationAlone(t *testing.T) {
	ts := newTestServer(t)
	s := createSubmission(t, ts, map[string]any{
		"form_type_id": 1, "year": 2024, "reg_name": "IV-A", "prov_name": "Laguna",
	})

	var updated model.Submission
	if status := ts.do(t, http.MethodPatch, "/api/submissions/"+itoa(s.ID), map[string]any{"reg_name": nil, "city_name": " Calamba "}, &updated); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if updated.RegName != nil {
		t.Errorf("expected reg_name cleared, got %q", *updated.RegName)
	}
	if updated.ProvName == nil || *updated.ProvName != "Laguna" {
		t.Errorf("expected prov_name kept, got %v", updated.ProvName)
	}
	if updated.CityName == nil || *updated.CityName != "Calamba" {
		t.Errorf("expected trimmed city_name, got %v", updated.CityName)
	}
}

func TestSubmissionNotFound(t *testing.T) {
	ts := newTestServer(t)
	for _, c := range []struct{ method, path string }{
		{http.MethodGet, "/api/submissions/999"},
		{http.MethodPatch, "/api/submissions/999"},
		{http.MethodPost, "/api/submissions/999/submit"},
		{http.MethodPut, "/api/submissions/999/answers"},
	} {
		var body any
		if c.method != http.MethodGet {
			body = map[string]any{"answers": map[string]any{}}
		}
		if status := ts.do(t, c.method, c.path, body, nil); status != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", c.method, c.path, status)
		}
	}
}

func TestListSubmissions(t *testing.T) {
	ts := newTestServer(t)
	ts.exec(t, `INSERT INTO form_type (id, "key", name) VALUES (3, 'hh', 'Household')`)
	for i := 0; i < 3; i++ {
		createSubmission(t, ts, map[string]any{"form_type_id": 3, "year": 2024, "prov_name": "Laguna"})
	}
	createSubmission(t, ts, map[string]any{"form_type_id": 3, "year": 2023, "prov_name": "Batangas"})

	var page model.SubmissionPage
	if status := ts.do(t, http.MethodGet, "/api/submissions?year=2024&per_page=2&page=2", nil, &page); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if diff := cmp.Diff(model.PageMeta{Page: 2, PerPage: 2, Total: 3, TotalPages: 2}, page.Meta); diff != "" {
		t.Errorf("meta mismatch (-want +got):\n%s", diff)
	}
	if len(page.Data) != 1 || page.Data[0].AnswersCount == nil || *page.Data[0].FormTypeName != "Household" {
		t.Errorf("unexpected page data %+v", page.Data)
	}

	if status := ts.do(t, http.MethodGet, "/api/my-submissions?prov_name=Batangas&per_page=0", nil, &page); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if page.Meta.PerPage != 1 || page.Meta.Total != 1 || page.Data[0].Year != 2023 {
		t.Errorf("unexpected filtered page %+v", page)
	}

	if status := ts.do(t, http.MethodGet, "/api/submissions?per_page=1000", nil, &page); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if page.Meta.PerPage != 200 {
		t.Errorf("expected per_page clamped to 200, got %d", page.Meta.PerPage)
	}
	if page.Data[0].ID < page.Data[len(page.Data)-1].ID {
		t.Error("expected newest first")
	}
}

func TestMySubmissionsOnlyListsCaller(t *testing.T) {
	ts := newTestServer(t)
	createSubmission(t, ts, map[string]any{"form_type_id": 1, "year": 2024})

	other := ts.exec(t, `INSERT INTO user (username, password_hash) VALUES ('bob', 'x')`)
	ts.exec(t, `INSERT INTO submission (form_type_id, year, created_by) VALUES (1, 2024, ?)`, other)

	var page model.SubmissionPage
	ts.do(t, http.MethodGet, "/api/my-submissions", nil, &page)
	if page.Meta.Total != 1 {
		t.Errorf("expected only own submission, got %d", page.Meta.Total)
	}
	ts.do(t, http.MethodGet, "/api/submissions", nil, &page)
	if page.Meta.Total != 2 {
		t.Errorf("expected all submissions, got %d", page.Meta.Total)
	}
}
