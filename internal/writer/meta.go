package writer

import (
	"encoding/json"
	"time"

	"github.com/ishowshao/meowdiff/internal/timeline"
)

// marshalMeta renders a Record as meta.json, matching spec.md §6's schema
// exactly (record_id, project_id, started_at, ended_at, files, stats,
// prev_record_id, tool_version); the Record's diff_hash is not written.
func marshalMeta(rec timeline.Record) ([]byte, error) {
	meta := struct {
		RecordID     string               `json:"record_id"`
		ProjectID    string               `json:"project_id"`
		StartedAt    time.Time            `json:"started_at"`
		EndedAt      time.Time            `json:"ended_at"`
		Files        []timeline.FileEntry `json:"files"`
		Stats        timeline.RecordStats `json:"stats"`
		PrevRecordID *string              `json:"prev_record_id"`
		ToolVersion  string               `json:"tool_version"`
	}{rec.RecordID, rec.ProjectID, rec.StartedAt, rec.EndedAt, rec.Files, rec.Stats, rec.PrevRecordID, rec.ToolVersion}
	return json.MarshalIndent(meta, "", "  ")
}
