package draft

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mbolis/fieldsync/kv"
	"github.com/mbolis/fieldsync/model"
	"github.com/mbolis/fieldsync/offline"
	"github.com/mbolis/fieldsync/reconcile"
	"github.com/mbolis/fieldsync/schema"
)

type fakeAPI struct {
	nextID     int64
	creates    int
	submits    int
	failSubmit error
	rejected   []string
}

func (f *fakeAPI) CreateSubmission(context.Context, model.CreateSubmissionRequest) (model.CreateSubmissionResponse, error) {
	f.creates++
	f.nextID++
	return model.CreateSubmissionResponse{Submission: model.Submission{ID: f.nextID}}, nil
}

func (f *fakeAPI) UpsertAnswers(_ context.Context, _ int64, req model.UpsertAnswersRequest) (model.UpsertAnswersResult, error) {
	if f.rejected != nil {
		return model.UpsertAnswersResult{Updated: len(req.Answers) - len(f.rejected), Rejected: f.rejected}, nil
	}
	return model.UpsertAnswersResult{Updated: len(req.Answers), Rejected: []string{}}, nil
}

func (f *fakeAPI) Submit(_ context.Context, id int64) (model.Submission, error) {
	f.submits++
	if f.failSubmit != nil {
		return model.Submission{}, f.failSubmit
	}
	return model.Submission{ID: id, Status: model.StatusSubmitted}, nil
}

func setup(t *testing.T) (*Manager, *offline.Store, *fakeAPI) {
	t.Helper()
	store := offline.New(kv.NewMemory())
	api := &fakeAPI{}
	m := NewManager(store, api)
	m.now = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }
	return m, store, api
}

func fullDraft() *model.Draft {
	return &model.Draft{
		FormTypeID: 3,
		Year:       2024,
		Answers:    map[string]any{"q1": "1"},
		Location: model.Location{
			ProvName: model.Str("Laguna"),
			CityName: model.Str("Calamba"),
			BrgyName: model.Str("Real"),
		},
	}
}

func TestSaveAssignsIDAndMarksDirty(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setup(t)
	d := fullDraft()

	if err := m.Save(ctx, d); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(d.DraftID, "draft_") {
		t.Errorf("unexpected id %q", d.DraftID)
	}
	if !d.Dirty || d.Status != model.DraftStatusDraft || d.UpdatedAt.IsZero() {
		t.Errorf("unexpected draft %+v", d)
	}
	if m.State(ctx, d.DraftID) != StateLocalDirty {
		t.Errorf("expected local-dirty, got %s", m.State(ctx, d.DraftID))
	}

	id := d.DraftID
	d.Answers["q1"] = "2"
	if err := m.Save(ctx, d); err != nil {
		t.Fatal(err)
	}
	if d.DraftID != id || len(store.ListDrafts(ctx)) != 1 {
		t.Error("expected second save to overwrite in place")
	}
}

func TestSaveValidatesLeniently(t *testing.T) {
	m, _, _ := setup(t)
	d := fullDraft()
	d.Location.BrgyName = nil
	if err := m.Save(context.Background(), d); err != nil {
		t.Fatalf("barangay is not needed to save: %v", err)
	}

	d.Location.CityName = nil
	var ve *ValidationError
	if err := m.Save(context.Background(), d); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if diff := cmp.Diff([]string{"city_name"}, ve.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitValidatesStrictly(t *testing.T) {
	m, store, api := setup(t)
	d := fullDraft()
	d.Location.BrgyName = model.Str(" ")

	_, err := m.Submit(context.Background(), d)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Missing[0] != "brgy_name" {
		t.Fatalf("expected brgy_name missing, got %v", err)
	}
	if api.creates != 0 || len(store.ListDrafts(context.Background())) != 0 {
		t.Error("nothing should happen before the location is complete")
	}
}

func TestSubmitDeletesDraftOnAck(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setup(t)
	d := fullDraft()

	res, err := m.Apply(ctx, d, ActionSubmit)
	if err != nil {
		t.Fatal(err)
	}
	if res.Submission == nil || res.Submission.Status != model.StatusSubmitted {
		t.Errorf("unexpected result %+v", res)
	}
	if len(store.ListDrafts(ctx)) != 0 {
		t.Error("expected draft removed after submit")
	}
	if m.State(ctx, d.DraftID) != StateSynced {
		t.Errorf("expected synced, got %s", m.State(ctx, d.DraftID))
	}
}

func TestFailedSubmitKeepsDraftAndServerID(t *testing.T) {
	ctx := context.Background()
	m, store, api := setup(t)
	api.failSubmit = errors.New("server down")
	d := fullDraft()

	_, err := m.Submit(ctx, d)
	var se *reconcile.StepError
	if !errors.As(err, &se) || se.Step != reconcile.StepSubmit {
		t.Fatalf("expected submit step error, got %v", err)
	}

	stored, ok := store.GetDraft(ctx, d.DraftID)
	if !ok {
		t.Fatal("draft lost after failed submit")
	}
	if stored.ServerSubmissionID == nil || *stored.ServerSubmissionID != 1 {
		t.Errorf("expected server id persisted, got %v", stored.ServerSubmissionID)
	}
	if diff := cmp.Diff(map[string]any{"q1": "1"}, stored.Answers); diff != "" {
		t.Errorf("answers changed (-want +got):\n%s", diff)
	}

	api.failSubmit = nil
	if _, err = m.Submit(ctx, &stored); err != nil {
		t.Fatal(err)
	}
	if api.creates != 1 {
		t.Errorf("expected one create across retries, got %d", api.creates)
	}
}

func TestOfflineModeOnlySaves(t *testing.T) {
	ctx := context.Background()
	m, store, api := setup(t)
	m.SetOffline(true)
	d := fullDraft()

	if _, err := m.Submit(ctx, d); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if api.creates != 0 {
		t.Error("no remote call expected offline")
	}
	if _, ok := store.GetDraft(ctx, d.DraftID); !ok {
		t.Error("expected draft saved offline")
	}
}

func TestSyncKeepsDraft(t *testing.T) {
	ctx := context.Background()
	m, store, api := setup(t)
	d := fullDraft()
	d.Location.BrgyName = nil

	if _, err := m.Sync(ctx, d); err != nil {
		t.Fatal(err)
	}
	stored, ok := store.GetDraft(ctx, d.DraftID)
	if !ok || stored.ServerSubmissionID == nil || stored.Dirty {
		t.Errorf("expected clean stored draft with server id, got %+v", stored)
	}
	if api.submits != 0 {
		t.Error("sync must not submit")
	}
}

func TestSubmitAllAggregatesFailures(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setup(t)

	good := fullDraft()
	bad := fullDraft()
	bad.Location.BrgyName = nil
	if err := m.Save(ctx, good); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(ctx, bad); err != nil {
		t.Fatal(err)
	}

	n, err := m.SubmitAll(ctx)
	if n != 1 {
		t.Errorf("expected one submitted, got %d", n)
	}
	if err == nil || !strings.Contains(err.Error(), bad.DraftID) {
		t.Errorf("expected failure naming %s, got %v", bad.DraftID, err)
	}
	drafts := store.ListDrafts(ctx)
	if len(drafts) != 1 || drafts[0].DraftID != bad.DraftID {
		t.Errorf("expected only the failed draft left, got %v", drafts)
	}
}

func TestSetAnswerBuildsSnapshot(t *testing.T) {
	m, _, _ := setup(t)
	d := &model.Draft{}
	field := schema.Field{Key: "q1", Label: "Water", Type: "radio", Options: []schema.Option{{Key: "1", Label: "Piped"}}}

	m.SetAnswer(d, field, "1", nil)

	if d.Answers["q1"] != "1" {
		t.Errorf("unexpected answer %v", d.Answers["q1"])
	}
	snap := d.Snapshots["q1"]
	if snap.OptionLabel == nil || *snap.OptionLabel != "Piped" {
		t.Errorf("expected option label Piped, got %+v", snap)
	}
}

func TestSubmitKeepsDraftWhenAnswersRejected(t *testing.T) {
	ctx := context.Background()
	m, store, api := setup(t)
	api.rejected = []string{"q1"}
	d := fullDraft()

	if _, err := m.Submit(ctx, d); !errors.Is(err, reconcile.ErrRejected) {
		t.Fatalf("expected rejected answers error, got %v", err)
	}
	if api.submits != 0 {
		t.Errorf("expected no finalize, got %d submits", api.submits)
	}
	kept, ok := store.GetDraft(ctx, d.DraftID)
	if !ok || kept.ServerSubmissionID == nil || kept.Answers["q1"] != "1" {
		t.Fatalf("expected draft kept with its answers, got %+v", kept)
	}
	if m.State(ctx, d.DraftID) != StateLocalDirty {
		t.Errorf("expected local-dirty, got %s", m.State(ctx, d.DraftID))
	}

	api.rejected = nil
	if _, err := m.Submit(ctx, &kept); err != nil {
		t.Fatal(err)
	}
	if api.creates != 1 || api.submits != 1 {
		t.Errorf("expected retry to reuse the submission, got %d creates %d submits", api.creates, api.submits)
	}
}
