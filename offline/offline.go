// Package offline keeps drafts and downloaded forms on the device, in two JSON collections
// over a kv.Store.
package offline

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/mbolis/fieldsync/kv"
	"github.com/mbolis/fieldsync/log"
	"github.com/mbolis/fieldsync/model"
	"github.com/pkg/errors"
)

const (
	DraftsKey   = "offline:drafts"
	FormsKey    = "offline:forms"
	DeviceIDKey = "device_id"
)

// Store serializes read-modify-write cycles on the collections. Reads of unavailable or
// corrupt storage yield an empty collection rather than an error.
type Store struct {
	kv  kv.Store
	mu  sync.Mutex
	now func() time.Time
}

func New(store kv.Store) *Store {
	return &Store{kv: store, now: time.Now}
}

func (s *Store) ListDrafts(ctx context.Context) []model.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readDrafts(ctx)
}

func (s *Store) GetDraft(ctx context.Context, draftID string) (model.Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.readDrafts(ctx) {
		if d.DraftID == draftID {
			return d, true
		}
	}
	return model.Draft{}, false
}

// SaveDraft replaces the draft with the same DraftID, or appends it.
func (s *Store) SaveDraft(ctx context.Context, draft model.Draft) error {
	if draft.DraftID == "" {
		return errors.New("draft without id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	drafts := s.readDrafts(ctx)
	replaced := false
	for i := range drafts {
		if drafts[i].DraftID == draft.DraftID {
			drafts[i] = draft
			replaced = true
			break
		}
	}
	if !replaced {
		drafts = append(drafts, draft)
	}
	return s.write(ctx, DraftsKey, drafts)
}

func (s *Store) DeleteDraft(ctx context.Context, draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drafts := s.readDrafts(ctx)
	kept := drafts[:0]
	for _, d := range drafts {
		if d.DraftID != draftID {
			kept = append(kept, d)
		}
	}
	if len(kept) == len(drafts) {
		return nil
	}
	return s.write(ctx, DraftsKey, kept)
}

func (s *Store) ListDownloadedForms(ctx context.Context) []model.DownloadedForm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readForms(ctx)
}

func (s *Store) GetDownloadedForm(ctx context.Context, formTypeID, year int) (model.DownloadedForm, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.readForms(ctx) {
		if f.FormTypeID == formTypeID && f.Year == year {
			return f, true
		}
	}
	return model.DownloadedForm{}, false
}

// SaveDownloadedForm keeps at most one entry per (FormTypeID, Year).
func (s *Store) SaveDownloadedForm(ctx context.Context, form model.DownloadedForm) error {
	if form.DownloadedAt.IsZero() {
		form.DownloadedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	forms := s.readForms(ctx)
	replaced := false
	for i := range forms {
		if forms[i].FormTypeID == form.FormTypeID && forms[i].Year == form.Year {
			forms[i] = form
			replaced = true
			break
		}
	}
	if !replaced {
		forms = append(forms, form)
	}
	return s.write(ctx, FormsKey, forms)
}

func (s *Store) DeleteDownloadedForm(ctx context.Context, formTypeID, year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	forms := s.readForms(ctx)
	kept := forms[:0]
	for _, f := range forms {
		if f.FormTypeID != formTypeID || f.Year != year {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(forms) {
		return nil
	}
	return s.write(ctx, FormsKey, kept)
}

// DeviceID returns the identifier of this installation, creating it on first use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok, err := s.kv.Get(ctx, DeviceIDKey)
	if err != nil {
		return "", errors.Wrap(err, "read device id")
	}
	if ok && len(v) > 0 {
		return string(v), nil
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", errors.Wrap(err, "generate device id")
	}
	if err = s.kv.Set(ctx, DeviceIDKey, []byte(id.String())); err != nil {
		return "", errors.Wrap(err, "store device id")
	}
	return id.String(), nil
}

func (s *Store) readDrafts(ctx context.Context) []model.Draft {
	data := s.read(ctx, DraftsKey)
	if data == nil {
		return []model.Draft{}
	}
	var drafts []model.Draft
	if err := json.Unmarshal(data, &drafts); err != nil {
		log.Warnf("offline: corrupt %s, treating as empty: %v", DraftsKey, err)
		return []model.Draft{}
	}
	return drafts
}

// storedForm tolerates entries whose ids were written as strings or floats.
type storedForm struct {
	model.DownloadedForm
	FormTypeID any `json:"formTypeId"`
	Year       any `json:"year"`
}

func (s *Store) readForms(ctx context.Context) []model.DownloadedForm {
	data := s.read(ctx, FormsKey)
	if data == nil {
		return []model.DownloadedForm{}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warnf("offline: corrupt %s, treating as empty: %v", FormsKey, err)
		return []model.DownloadedForm{}
	}

	forms := make([]model.DownloadedForm, 0, len(raw))
	healed := false
	for _, r := range raw {
		var sf storedForm
		if err := json.Unmarshal(r, &sf); err != nil {
			healed = true
			continue
		}
		formTypeID, ok1 := normalizeInt(sf.FormTypeID)
		year, ok2 := normalizeInt(sf.Year)
		if !ok1 || !ok2 {
			healed = true
			continue
		}
		if _, isNum := sf.FormTypeID.(float64); !isNum {
			healed = true
		}
		if _, isNum := sf.Year.(float64); !isNum {
			healed = true
		}

		f := sf.DownloadedForm
		f.FormTypeID = formTypeID
		f.Year = year
		forms = append(forms, f)
	}

	if healed {
		if err := s.write(ctx, FormsKey, forms); err != nil {
			log.Warnf("offline: could not persist healed %s: %v", FormsKey, err)
		}
	}
	return forms
}

func (s *Store) read(ctx context.Context, key string) []byte {
	data, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		log.Warnf("offline: read %s: %v", key, err)
		return nil
	}
	if !ok || len(data) == 0 {
		return nil
	}
	return data
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return errors.Wrapf(s.kv.Set(ctx, key, data), "write %s", key)
}

func normalizeInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
