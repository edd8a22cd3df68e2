package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mbolis/fieldsync/model"
)

func (c *Client) Me(ctx context.Context) (user model.User, err error) {
	err = c.Do(ctx, http.MethodGet, "/api/me", nil, &user)
	return
}

func (c *Client) FormTypes(ctx context.Context, year int) ([]model.FormType, error) {
	q := url.Values{}
	if year > 0 {
		q.Set("year", strconv.Itoa(year))
	}
	var res struct {
		FormTypes []model.FormType `json:"form_types"`
	}
	err := c.Do(ctx, http.MethodGet, withQuery("/api/form-types", q), nil, &res)
	return res.FormTypes, err
}

func (c *Client) ActiveSchema(ctx context.Context, formTypeID, year int) (sv model.SchemaVersion, err error) {
	q := url.Values{"year": {strconv.Itoa(year)}}
	err = c.Do(ctx, http.MethodGet, withQuery(fmt.Sprintf("/api/form-types/%d/active-schema", formTypeID), q), nil, &sv)
	return
}

// Mapping returns nil without error when the server has no mapping for the pair.
func (c *Client) Mapping(ctx context.Context, formTypeID, year int) (*model.Mapping, error) {
	q := url.Values{
		"form_type_id": {strconv.Itoa(formTypeID)},
		"year":         {strconv.Itoa(year)},
	}
	var m model.Mapping
	err := c.Do(ctx, http.MethodGet, withQuery("/api/form-mappings", q), nil, &m)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) CreateSubmission(ctx context.Context, req model.CreateSubmissionRequest) (res model.CreateSubmissionResponse, err error) {
	err = c.Do(ctx, http.MethodPost, "/api/submissions", req, &res)
	return
}

func (c *Client) UpsertAnswers(ctx context.Context, submissionID int64, req model.UpsertAnswersRequest) (res model.UpsertAnswersResult, err error) {
	err = c.Do(ctx, http.MethodPut, fmt.Sprintf("/api/submissions/%d/answers", submissionID), req, &res)
	return
}

func (c *Client) Submit(ctx context.Context, submissionID int64) (s model.Submission, err error) {
	err = c.Do(ctx, http.MethodPost, fmt.Sprintf("/api/submissions/%d/submit", submissionID), nil, &s)
	return
}

func (c *Client) GetSubmission(ctx context.Context, submissionID int64) (d model.SubmissionDetail, err error) {
	err = c.Do(ctx, http.MethodGet, fmt.Sprintf("/api/submissions/%d", submissionID), nil, &d)
	return
}

// UpdateSubmission sends only the fields set in req, so unset location fields are left alone.
func (c *Client) UpdateSubmission(ctx context.Context, submissionID int64, req model.UpdateSubmissionRequest) (s model.Submission, err error) {
	body := map[string]any{}
	if req.Status != nil {
		body["status"] = *req.Status
	}
	if req.Source != nil {
		body["source"] = *req.Source
	}
	for key, v := range map[string]*string{
		"reg_name":  req.RegName,
		"prov_name": req.ProvName,
		"city_name": req.CityName,
		"brgy_name": req.BrgyName,
	} {
		if v != nil {
			body[key] = *v
		}
	}
	err = c.Do(ctx, http.MethodPatch, fmt.Sprintf("/api/submissions/%d", submissionID), body, &s)
	return
}

func (c *Client) ListSubmissions(ctx context.Context, filter model.ListFilter) (page model.SubmissionPage, err error) {
	err = c.Do(ctx, http.MethodGet, withQuery("/api/submissions", filterQuery(filter)), nil, &page)
	return
}

func (c *Client) MySubmissions(ctx context.Context, filter model.ListFilter) (page model.SubmissionPage, err error) {
	err = c.Do(ctx, http.MethodGet, withQuery("/api/my-submissions", filterQuery(filter)), nil, &page)
	return
}

func filterQuery(f model.ListFilter) url.Values {
	q := url.Values{}
	setInt := func(k string, v int) {
		if v > 0 {
			q.Set(k, strconv.Itoa(v))
		}
	}
	setStr := func(k string, v *string) {
		if v != nil && *v != "" {
			q.Set(k, *v)
		}
	}
	setInt("form_type_id", f.FormTypeID)
	setInt("year", f.Year)
	setStr("status", &f.Status)
	setStr("source", &f.Source)
	setStr("reg_name", f.RegName)
	setStr("prov_name", f.ProvName)
	setStr("city_name", f.CityName)
	setStr("brgy_name", f.BrgyName)
	setInt("page", f.Page)
	setInt("per_page", f.PerPage)
	return q
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
