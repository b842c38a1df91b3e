// Package dedup removes repeated events within one partition batch.
package dedup

import "github.com/telhawk-systems/telhawk-lake/common/models"

// Stats describes one Dedup pass.
type Stats struct {
	Input      int
	Kept       int
	Duplicates int
	MissingID  int
}

// Dedup keeps the first row seen for each event_id, preserving order. Rows
// without an event_id are dropped.
func Dedup(rows []models.Row) ([]models.Row, Stats) {
	stats := Stats{Input: len(rows)}
	seen := make(map[string]struct{}, len(rows))
	out := make([]models.Row, 0, len(rows))

	for _, row := range rows {
		id, ok := row.Identity()
		if !ok {
			stats.MissingID++
			continue
		}
		if _, dup := seen[id]; dup {
			stats.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		out = append(out, row)
	}

	stats.Kept = len(out)
	return out, stats
}
