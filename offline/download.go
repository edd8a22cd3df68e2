package offline

import (
	"context"

	"github.com/mbolis/fieldsync/model"
	"github.com/pkg/errors"
)

// FormsAPI is the part of the remote gateway a download needs.
type FormsAPI interface {
	FormTypes(ctx context.Context, year int) ([]model.FormType, error)
	ActiveSchema(ctx context.Context, formTypeID, year int) (model.SchemaVersion, error)
	Mapping(ctx context.Context, formTypeID, year int) (*model.Mapping, error)
}

// Download fetches the active schema and latest mapping for (formTypeID, year) and caches them
// as one downloaded form, replacing any previous download of the same pair.
func (s *Store) Download(ctx context.Context, api FormsAPI, formTypeID, year int) (model.DownloadedForm, error) {
	schema, err := api.ActiveSchema(ctx, formTypeID, year)
	if err != nil {
		return model.DownloadedForm{}, errors.Wrap(err, "fetch active schema")
	}
	mapping, err := api.Mapping(ctx, formTypeID, year)
	if err != nil {
		return model.DownloadedForm{}, errors.Wrap(err, "fetch mapping")
	}

	form := model.DownloadedForm{
		FormTypeID:      formTypeID,
		Year:            year,
		SchemaVersionID: &schema.ID,
		Version:         &schema.Version,
		Status:          schema.Status,
		SchemaJSON:      schema.SchemaJSON,
		UIJSON:          schema.UIJSON,
		DownloadedAt:    s.now(),
	}
	if mapping != nil {
		form.MappingID = &mapping.ID
		form.MappingJSON = mapping.MappingJSON
	}

	types, err := api.FormTypes(ctx, year)
	if err != nil {
		return model.DownloadedForm{}, errors.Wrap(err, "fetch form types")
	}
	for _, t := range types {
		if t.ID == int64(formTypeID) {
			form.Title = t.Name
			break
		}
	}

	if err = s.SaveDownloadedForm(ctx, form); err != nil {
		return model.DownloadedForm{}, err
	}
	return form, nil
}
