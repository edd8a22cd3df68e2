package routes

import (
	"net/http"
	"testing"

	"github.com/mbolis/fieldsync/model"
)

func seedForms(t *testing.T, ts *testServer) {
	t.Helper()
	ts.exec(t, `INSERT INTO form_type (id, "key", name, sector_key) VALUES (1, 'agri', 'Agriculture', 'b'), (2, 'hh', 'Household', 'a')`)
	ts.exec(t, `INSERT INTO form_type (id, "key", name, is_active) VALUES (3, 'old', 'Retired', 0)`)
	ts.exec(t, `INSERT INTO form_schema_version (form_type_id, year, version, status, schema_json) VALUES (1, 2024, 1, 'active', '{"fields":[]}')`)
	ts.exec(t, `INSERT INTO form_schema_version (form_type_id, year, version, status, schema_json) VALUES (1, 2024, 2, 'active', '{"fields":[{"key":"q1"}]}')`)
	ts.exec(t, `INSERT INTO form_schema_version (form_type_id, year, version, status) VALUES (1, 2024, 3, 'draft')`)
	ts.exec(t, `INSERT INTO form_schema_version (form_type_id, year, version, status) VALUES (2, 2023, 1, 'active')`)
	ts.exec(t, `INSERT INTO form_mapping (form_type_id, year, mapping_json) VALUES (1, 2024, 'not json')`)
}

func TestListFormTypes(t *testing.T) {
	ts := newTestServer(t)
	seedForms(t, ts)

	var res struct {
		FormTypes []model.FormType `json:"form_types"`
	}
	if status := ts.do(t, http.MethodGet, "/api/form-types?year=2024", nil, &res); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if len(res.FormTypes) != 2 {
		t.Fatalf("expected two active form types, got %+v", res.FormTypes)
	}
	hh, agri := res.FormTypes[0], res.FormTypes[1]
	if hh.Key != "hh" || agri.Key != "agri" {
		t.Errorf("expected sector order, got %s then %s", hh.Key, agri.Key)
	}
	if len(hh.SchemaVersions) != 0 {
		t.Errorf("expected no 2024 versions for hh, got %+v", hh.SchemaVersions)
	}
	if len(agri.SchemaVersions) != 2 || agri.SchemaVersions[0].Version != 2 {
		t.Errorf("expected active versions newest first, got %+v", agri.SchemaVersions)
	}

	if status := ts.do(t, http.MethodGet, "/api/form-types?year=12", nil, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for bad year, got %d", status)
	}
}

func TestGetActiveSchema(t *testing.T) {
	ts := newTestServer(t)
	seedForms(t, ts)

	var sv model.SchemaVersion
	if status := ts.do(t, http.MethodGet, "/api/form-types/1/active-schema?year=2024", nil, &sv); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if sv.Version != 2 || string(sv.SchemaJSON) != `{"fields":[{"key":"q1"}]}` {
		t.Errorf("unexpected schema version %+v", sv)
	}

	if status := ts.do(t, http.MethodGet, "/api/form-types/2/active-schema?year=2024", nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
}

func TestGetFormMapping(t *testing.T) {
	ts := newTestServer(t)
	seedForms(t, ts)

	var m model.Mapping
	if status := ts.do(t, http.MethodGet, "/api/form-mappings?form_type_id=1&year=2024", nil, &m); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if string(m.MappingJSON) != `{}` {
		t.Errorf("expected malformed mapping replaced by {}, got %s", m.MappingJSON)
	}

	for path, want := range map[string]int{
		"/api/form-mappings?year=2024":                  http.StatusBadRequest,
		"/api/form-mappings?form_type_id=1":             http.StatusBadRequest,
		"/api/form-mappings?form_type_id=2&year=2024":   http.StatusNotFound,
		"/api/form-mappings?form_type_id=abc&year=2024": http.StatusBadRequest,
	} {
		if status := ts.do(t, http.MethodGet, path, nil, nil); status != want {
			t.Errorf("%s: expected %d, got %d", path, want, status)
		}
	}
}
