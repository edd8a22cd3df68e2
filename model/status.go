package model

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusReviewed  Status = "reviewed"
	StatusRejected  Status = "rejected"
)

// AllowedStatuses is the set a PATCH may ask for.
var AllowedStatuses = []Status{StatusDraft, StatusReviewed, StatusRejected, StatusSubmitted}

func (s Status) Valid() bool {
	for _, a := range AllowedStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func (e *TransitionError) Error() string {
	if len(e.Allowed) > 0 && !e.To.Valid() {
		return fmt.Sprintf("invalid status %q, allowed: %s", e.To, joinStatuses(e.Allowed))
	}
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// ValidateTransition checks a requested status change against the submission state machine:
// draft -> submitted -> {reviewed, rejected}. A submitted row may only move on to reviewed or
// rejected; re-submitting it through an update is refused (the submit action handles retries).
func ValidateTransition(from, to Status) error {
	if !to.Valid() {
		return &TransitionError{From: from, To: to, Allowed: AllowedStatuses}
	}
	if from == StatusSubmitted && to != StatusReviewed && to != StatusRejected {
		return &TransitionError{From: from, To: to, Allowed: []Status{StatusReviewed, StatusRejected}}
	}
	return nil
}

func joinStatuses(statuses []Status) string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
