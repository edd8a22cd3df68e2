package schema

import "github.com/mbolis/fieldsync/model"

// Snapshots returns the initial snapshot of every field: label, type and option key.
func Snapshots(fields []Field) map[string]model.Snapshot {
	out := make(map[string]model.Snapshot, len(fields))
	for _, f := range fields {
		snap := model.Snapshot{
			Label: model.Str(f.Label),
			Type:  model.Str(f.Type),
		}
		if f.OptionKey != "" {
			snap.OptionKey = model.Str(f.OptionKey)
		}
		out[f.Key] = snap
	}
	return out
}

// MergeSnapshots adds the snapshots of fields to existing without replacing any entry already
// there, and returns the merged map.
func MergeSnapshots(existing map[string]model.Snapshot, fields []Field) map[string]model.Snapshot {
	merged := Snapshots(fields)
	for k, v := range existing {
		merged[k] = v
	}
	return merged
}
