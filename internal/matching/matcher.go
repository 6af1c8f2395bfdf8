// Package matching associates a verified participant with the result category
// their team qualified in.
package matching

import (
	"errors"
	"strings"

	"certhub/internal/records"
	"certhub/internal/results"
)

// ErrNoMatch means the participant exists but appears in no result table.
var ErrNoMatch = errors.New("no category match")

// By tells which column produced the match.
type By string

const (
	ByTeam   By = "team"
	ByLeader By = "leader"
)

// VerifiedMatch binds a record to the category row it was found in.
type VerifiedMatch struct {
	Record   records.ParticipantRecord `json:"record"`
	Category results.Category          `json:"category"`
	Row      results.Row               `json:"row"`
	By       By                        `json:"matched_by"`
}

// Match scans the snapshot in catalog order, first by team name and then by
// participant name against the leader column. The first hit wins.
func Match(rec records.ParticipantRecord, snap *results.Snapshot) (VerifiedMatch, error) {
	if snap == nil {
		return VerifiedMatch{}, ErrNoMatch
	}
	if m, ok := scan(rec, snap, ByTeam, normalize(rec.Team)); ok {
		return m, nil
	}
	if m, ok := scan(rec, snap, ByLeader, normalize(rec.Name)); ok {
		return m, nil
	}
	return VerifiedMatch{}, ErrNoMatch
}

func scan(rec records.ParticipantRecord, snap *results.Snapshot, by By, key string) (VerifiedMatch, bool) {
	if key == "" {
		return VerifiedMatch{}, false
	}
	for _, cat := range snap.Catalog {
		for _, row := range snap.Rows(cat.ID) {
			col := row.TeamName
			if by == ByLeader {
				col = row.LeaderName
			}
			if normalize(col) == key {
				return VerifiedMatch{Record: rec, Category: cat, Row: row, By: by}, true
			}
		}
	}
	return VerifiedMatch{}, false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
