// Package draft drives a local draft through save, sync and submit. A draft is deleted from the
// device only after the server acknowledges its submission.
package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mbolis/fieldsync/answer"
	"github.com/mbolis/fieldsync/log"
	"github.com/mbolis/fieldsync/model"
	"github.com/mbolis/fieldsync/offline"
	"github.com/mbolis/fieldsync/reconcile"
	"github.com/mbolis/fieldsync/schema"
)

type State int

const (
	StateNew State = iota
	StateLocalDirty
	StateReconciling
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateLocalDirty:
		return "local-dirty"
	case StateReconciling:
		return "reconciling"
	case StateSynced:
		return "synced"
	}
	return "new"
}

type Action int

const (
	ActionSaveLocal Action = iota
	ActionSync
	ActionSubmit
)

// ErrOffline is returned by sync and submit in offline mode, after the draft has been saved.
var ErrOffline = errors.New("offline: draft saved locally")

// ErrBusy is returned when the draft is already being reconciled.
var ErrBusy = errors.New("draft is being reconciled")

// ValidationError lists the location fields still missing.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "location incomplete: " + strings.Join(e.Missing, ", ")
}

type Manager struct {
	store    *offline.Store
	protocol reconcile.Protocol
	offline  bool
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
	synced   map[string]int64
}

func NewManager(store *offline.Store, api reconcile.API) *Manager {
	return &Manager{
		store:    store,
		protocol: reconcile.Protocol{API: api},
		now:      time.Now,
		inFlight: map[string]bool{},
		synced:   map[string]int64{},
	}
}

// SetOffline switches sync and submit to local saves only.
func (m *Manager) SetOffline(offline bool) {
	m.offline = offline
}

func (m *Manager) SetSource(source string) {
	m.protocol.Source = source
}

// State reports where a draft is in its lifecycle.
func (m *Manager) State(ctx context.Context, draftID string) State {
	m.mu.Lock()
	inFlight, syncedID := m.inFlight[draftID], m.synced[draftID]
	m.mu.Unlock()

	switch {
	case inFlight:
		return StateReconciling
	case syncedID != 0:
		return StateSynced
	}
	if _, ok := m.store.GetDraft(ctx, draftID); ok {
		return StateLocalDirty
	}
	return StateNew
}

// Apply runs action on d. d is updated in place with its id, timestamps and server id.
func (m *Manager) Apply(ctx context.Context, d *model.Draft, action Action) (reconcile.Result, error) {
	switch action {
	case ActionSaveLocal:
		return reconcile.Result{}, m.Save(ctx, d)
	case ActionSync:
		return m.reconcile(ctx, d, model.ModeDraft)
	case ActionSubmit:
		return m.reconcile(ctx, d, model.ModeSubmit)
	}
	return reconcile.Result{}, fmt.Errorf("unknown action %d", action)
}

// Save validates the location leniently and stores d, assigning an id on first save.
func (m *Manager) Save(ctx context.Context, d *model.Draft) error {
	if missing := d.Location.Missing(false); len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return m.persist(ctx, d)
}

func (m *Manager) Sync(ctx context.Context, d *model.Draft) (reconcile.Result, error) {
	return m.reconcile(ctx, d, model.ModeDraft)
}

func (m *Manager) Submit(ctx context.Context, d *model.Draft) (reconcile.Result, error) {
	return m.reconcile(ctx, d, model.ModeSubmit)
}

// SetAnswer records raw as the answer to field and refreshes its snapshot.
func (m *Manager) SetAnswer(d *model.Draft, field schema.Field, raw any, options []schema.Option) {
	if d.Answers == nil {
		d.Answers = map[string]any{}
	}
	if d.Snapshots == nil {
		d.Snapshots = map[string]model.Snapshot{}
	}
	rec := answer.Build(field, raw, options)
	d.Answers[field.Key] = raw
	d.Snapshots[field.Key] = rec.Snapshot
}

// SubmitAll submits every stored draft and reports how many went through.
func (m *Manager) SubmitAll(ctx context.Context) (int, error) {
	var result *multierror.Error
	submitted := 0
	for _, d := range m.store.ListDrafts(ctx) {
		d := d
		if _, err := m.Submit(ctx, &d); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", d.DraftID, err))
			continue
		}
		submitted++
	}
	return submitted, result.ErrorOrNil()
}

func (m *Manager) reconcile(ctx context.Context, d *model.Draft, mode model.Mode) (reconcile.Result, error) {
	strict := mode == model.ModeSubmit
	if missing := d.Location.Missing(strict); len(missing) > 0 {
		return reconcile.Result{}, &ValidationError{Missing: missing}
	}
	if err := m.persist(ctx, d); err != nil {
		return reconcile.Result{}, err
	}
	if m.offline {
		return reconcile.Result{}, ErrOffline
	}

	if !m.begin(d.DraftID) {
		return reconcile.Result{}, ErrBusy
	}
	defer m.end(d.DraftID)

	entry := log.WithFields(log.Fields{"draft": d.DraftID, "mode": mode})
	res, err := m.protocol.Reconcile(ctx, d, mode)
	if err != nil {
		entry.Warnf("reconcile failed: %v", err)
		if perr := m.store.SaveDraft(ctx, *d); perr != nil {
			entry.Errorf("keep after failed reconcile: %v", perr)
		}
		return res, err
	}

	if mode == model.ModeSubmit {
		if err = m.store.DeleteDraft(ctx, d.DraftID); err != nil {
			return res, err
		}
		d.Status = model.DraftStatusSubmitted
		d.Dirty = false
		m.mu.Lock()
		m.synced[d.DraftID] = res.SubmissionID
		m.mu.Unlock()
		entry.Infof("submitted as %d", res.SubmissionID)
		return res, nil
	}

	d.Dirty = false
	return res, m.store.SaveDraft(ctx, *d)
}

func (m *Manager) persist(ctx context.Context, d *model.Draft) error {
	if d.DraftID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		d.DraftID = "draft_" + id.String()
	}
	if d.Status == "" {
		d.Status = model.DraftStatusDraft
	}
	d.Dirty = true
	d.UpdatedAt = m.now()
	return m.store.SaveDraft(ctx, *d)
}

func (m *Manager) begin(draftID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[draftID] {
		return false
	}
	m.inFlight[draftID] = true
	return true
}

func (m *Manager) end(draftID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, draftID)
}
