package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type Location struct {
	RegName  *string `json:"reg_name"`
	ProvName *string `json:"prov_name"`
	CityName *string `json:"city_name"`
	BrgyName *string `json:"brgy_name"`
}

// Missing names the location fields a save (lenient) or a submit (strict) still needs.
func (l Location) Missing(strict bool) []string {
	missing := []string{}
	if blank(l.ProvName) {
		missing = append(missing, "prov_name")
	}
	if blank(l.CityName) {
		missing = append(missing, "city_name")
	}
	if strict && blank(l.BrgyName) {
		missing = append(missing, "brgy_name")
	}
	return missing
}

// Str trims s and returns nil when nothing is left.
func Str(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// Snapshot is the denormalized metadata stored next to every answer.
type Snapshot struct {
	Label       *string `json:"label,omitempty"`
	Type        *string `json:"type,omitempty"`
	OptionKey   *string `json:"option_key,omitempty"`
	OptionLabel *string `json:"option_label,omitempty"`
}

// UnmarshalJSON accepts any JSON value for each member: numbers and booleans become their text,
// objects and arrays their compact JSON, and null leaves the member unset. A snapshot that is
// not an object decodes empty.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if json.Unmarshal(data, &raw) != nil {
		*s = Snapshot{}
		return nil
	}
	*s = Snapshot{
		Label:       snapshotText(raw["label"]),
		Type:        snapshotText(raw["type"]),
		OptionKey:   snapshotText(raw["option_key"]),
		OptionLabel: snapshotText(raw["option_label"]),
	}
	return nil
}

func snapshotText(raw json.RawMessage) *string {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return nil
	}
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return &t
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(t)
		return &s
	}
	var buf bytes.Buffer
	if json.Compact(&buf, raw) != nil {
		return nil
	}
	s := buf.String()
	return &s
}

const (
	DraftStatusDraft     = "draft"
	DraftStatusSubmitted = "submitted"
)

// Draft is a local-only answer set. DraftID is its only identity.
type Draft struct {
	DraftID            string              `json:"draftId"`
	ServerSubmissionID *int64              `json:"serverSubmissionId"`
	FormTypeID         int                 `json:"formTypeId"`
	Year               int                 `json:"year"`
	MappingID          *int64              `json:"mappingId,omitempty"`
	SchemaVersionID    *int64              `json:"schemaVersionId"`
	Location           Location            `json:"location"`
	Answers            map[string]any      `json:"answers"`
	Snapshots          map[string]Snapshot `json:"snapshots"`
	Status             string              `json:"status"`
	Dirty              bool                `json:"dirty"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// DownloadedForm pairs a schema and mapping snapshot with (FormTypeID, Year).
type DownloadedForm struct {
	FormTypeID      int             `json:"formTypeId"`
	Year            int             `json:"year"`
	Title           string          `json:"title,omitempty"`
	MappingID       *int64          `json:"mappingId,omitempty"`
	SchemaVersionID *int64          `json:"schemaVersionId,omitempty"`
	Version         *int            `json:"version,omitempty"`
	Status          string          `json:"status,omitempty"`
	SchemaJSON      json.RawMessage `json:"schema_json,omitempty"`
	UIJSON          json.RawMessage `json:"ui_json,omitempty"`
	MappingJSON     json.RawMessage `json:"mapping_json,omitempty"`
	DownloadedAt    time.Time       `json:"downloadedAt"`
}

type FormType struct {
	ID             int64           `json:"id"`
	Key            string          `json:"key"`
	Name           string          `json:"name"`
	SectorKey      *string         `json:"sector_key"`
	Description    *string         `json:"description"`
	SchemaVersions []SchemaVersion `json:"schema_versions"`
}

type SchemaVersion struct {
	ID         int64           `json:"id"`
	FormTypeID int64           `json:"form_type_id"`
	Year       int             `json:"year"`
	Version    int             `json:"version"`
	Status     string          `json:"status"`
	SchemaJSON json.RawMessage `json:"schema_json"`
	UIJSON     json.RawMessage `json:"ui_json"`
}

type Mapping struct {
	ID          int64           `json:"id"`
	FormTypeID  int64           `json:"form_type_id"`
	Year        int             `json:"year"`
	MappingJSON json.RawMessage `json:"mapping_json"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type Submission struct {
	ID              int64   `json:"id"`
	FormTypeID      int64   `json:"form_type_id"`
	FormTypeName    *string `json:"form_type_name,omitempty"`
	Year            int     `json:"year"`
	MappingID       *int64  `json:"mapping_id"`
	SchemaVersionID *int64  `json:"schema_version_id"`
	Source          string  `json:"source"`
	Status          Status  `json:"status"`
	Location
	CreatedBy    int64      `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	SubmittedAt  *time.Time `json:"submitted_at"`
	AnswersCount *int       `json:"answers_count,omitempty"`
}

// Answer is one stored submission_answer row.
type Answer struct {
	SubmissionID int64           `json:"submission_id"`
	FormTypeID   int64           `json:"form_type_id"`
	Year         int             `json:"year"`
	FieldKey     string          `json:"field_key"`
	Label        *string         `json:"label"`
	Type         *string         `json:"type"`
	OptionKey    *string         `json:"option_key"`
	OptionLabel  *string         `json:"option_label"`
	ValueText    *string         `json:"value_text"`
	ValueNumber  *float64        `json:"value_number"`
	ValueBool    *bool           `json:"value_bool"`
	ValueJSON    json.RawMessage `json:"value_json"`
}

type HumanAnswer struct {
	FieldKey    string  `json:"field_key"`
	Label       *string `json:"label"`
	Type        *string `json:"type"`
	Value       any     `json:"value"`
	OptionKey   *string `json:"option_key"`
	OptionLabel *string `json:"option_label"`
}

type Mode string

const (
	ModeDraft  Mode = "draft"
	ModeSubmit Mode = "submit"
)

type CreateSubmissionRequest struct {
	FormTypeID      int    `json:"form_type_id" validate:"required,min=1"`
	Year            int    `json:"year" validate:"required,min=2000,max=2100"`
	MappingID       *int64 `json:"mapping_id,omitempty"`
	SchemaVersionID *int64 `json:"schema_version_id,omitempty"`
	Source          string `json:"source,omitempty"`
	Location
}

type CreateSubmissionResponse struct {
	Submission  Submission      `json:"submission"`
	MappingJSON json.RawMessage `json:"mapping_json"`
}

type UpsertAnswersRequest struct {
	Mode      Mode                `json:"mode"`
	Answers   map[string]any      `json:"answers"`
	Snapshots map[string]Snapshot `json:"snapshots"`
	Location
}

type UpsertAnswersResult struct {
	Updated  int      `json:"updated"`
	Rejected []string `json:"rejected"`
}

type SubmissionDetail struct {
	Submission   Submission      `json:"submission"`
	MappingJSON  json.RawMessage `json:"mapping_json"`
	Answers      []Answer        `json:"answers"`
	AnswersHuman []HumanAnswer   `json:"answers_human"`
}

type UpdateSubmissionRequest struct {
	Status *Status `json:"status,omitempty"`
	Source *string `json:"source,omitempty"`
	Location
}

type ListFilter struct {
	FormTypeID int
	Year       int
	Status     string
	Source     string
	Location
	Page    int
	PerPage int
}

type PageMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type SubmissionPage struct {
	Data []Submission `json:"data"`
	Meta PageMeta     `json:"meta"`
}
