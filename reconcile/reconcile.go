// Package reconcile pushes one local draft to the server: ensure the submission exists, upsert
// its answers, and finalize it when submitting.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mbolis/fieldsync/log"
	"github.com/mbolis/fieldsync/model"
)

type Step string

const (
	StepCreate Step = "create"
	StepUpsert Step = "upsert"
	StepSubmit Step = "submit"
)

// StepError names the step a reconciliation stopped at. Steps already completed stay completed
// on the server.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("reconcile %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ErrRejected matches a submit stopped because the server refused some answers.
var ErrRejected = errors.New("answers rejected")

// RejectedError lists the answer keys the server refused. The submission is left unsubmitted.
type RejectedError struct {
	Keys []string
}

func (e *RejectedError) Error() string {
	return "server rejected answers: " + strings.Join(e.Keys, ", ")
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// API is the subset of the gateway the protocol calls.
type API interface {
	CreateSubmission(ctx context.Context, req model.CreateSubmissionRequest) (model.CreateSubmissionResponse, error)
	UpsertAnswers(ctx context.Context, submissionID int64, req model.UpsertAnswersRequest) (model.UpsertAnswersResult, error)
	Submit(ctx context.Context, submissionID int64) (model.Submission, error)
}

type Protocol struct {
	API    API
	Source string
}

// Result reports what a completed reconciliation did.
type Result struct {
	SubmissionID int64
	Created      bool
	Updated      int
	Rejected     []string
	Submission   *model.Submission
}

// Reconcile runs the steps for mode. The draft's ServerSubmissionID is set as soon as the
// server creates the submission, even when a later step fails, so a retry reuses it.
func (p Protocol) Reconcile(ctx context.Context, d *model.Draft, mode model.Mode) (Result, error) {
	var res Result

	if d.ServerSubmissionID == nil {
		created, err := p.API.CreateSubmission(ctx, model.CreateSubmissionRequest{
			FormTypeID:      d.FormTypeID,
			Year:            d.Year,
			MappingID:       d.MappingID,
			SchemaVersionID: d.SchemaVersionID,
			Source:          p.source(),
			Location:        d.Location,
		})
		if err != nil {
			return res, &StepError{StepCreate, err}
		}
		id := created.Submission.ID
		d.ServerSubmissionID = &id
		res.Created = true
		log.Debugf("reconcile: draft %s created submission %d", d.DraftID, id)
	}
	res.SubmissionID = *d.ServerSubmissionID

	answers := d.Answers
	if answers == nil {
		answers = map[string]any{}
	}
	upserted, err := p.API.UpsertAnswers(ctx, res.SubmissionID, model.UpsertAnswersRequest{
		Mode:      mode,
		Answers:   answers,
		Snapshots: d.Snapshots,
		Location:  d.Location,
	})
	if err != nil {
		return res, &StepError{StepUpsert, err}
	}
	res.Updated = upserted.Updated
	res.Rejected = upserted.Rejected
	if len(upserted.Rejected) > 0 {
		log.Warnf("reconcile: submission %d rejected answers %v", res.SubmissionID, upserted.Rejected)
	}

	if mode != model.ModeSubmit {
		return res, nil
	}
	if len(upserted.Rejected) > 0 {
		return res, &StepError{StepUpsert, &RejectedError{Keys: upserted.Rejected}}
	}

	submitted, err := p.API.Submit(ctx, res.SubmissionID)
	if err != nil {
		return res, &StepError{StepSubmit, err}
	}
	res.Submission = &submitted
	return res, nil
}

func (p Protocol) source() string {
	if p.Source == "" {
		return "mobile"
	}
	return p.Source
}
