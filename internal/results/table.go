package results

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Row is one qualifying team in a category table. Columns not covered by the
// alias table are kept in Extra under their header text.
type Row struct {
	CategoryID    string            `json:"category_id"`
	CategoryName  string            `json:"category_name"`
	TeamName      string            `json:"team_name"`
	LeaderName    string            `json:"leader_name,omitempty"`
	SolutionTitle string            `json:"solution_title,omitempty"`
	Institution   string            `json:"institution,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

type field int

const (
	fieldTeam field = iota
	fieldLeader
	fieldTitle
	fieldInstitution
)

// columnAliases maps normalized header text to a typed field. Result sheets
// from different judging panels name the same column differently.
var columnAliases = map[string]field{
	"team name":         fieldTeam,
	"team_name":         fieldTeam,
	"team":              fieldTeam,
	"teamname":          fieldTeam,
	"team leader name":  fieldLeader,
	"leader name":       fieldLeader,
	"team leader":       fieldLeader,
	"leader":            fieldLeader,
	"name":              fieldLeader,
	"participant name":  fieldLeader,
	"solution title":    fieldTitle,
	"idea title":        fieldTitle,
	"title":             fieldTitle,
	"problem statement": fieldTitle,
	"college":           fieldInstitution,
	"college name":      fieldInstitution,
	"institution":       fieldInstitution,
}

// ParseCSV decodes a result table. The first row is the header; blank rows are
// skipped; columns are addressed by header name, never by position.
func ParseCSV(cat Category, data []byte) ([]Row, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", cat.ID, err)
	}

	fields := make([]field, len(header))
	known := make([]bool, len(header))
	names := make([]string, len(header))
	claimed := map[field]bool{}
	for i, h := range header {
		names[i] = strings.TrimSpace(h)
		f, ok := columnAliases[strings.ToLower(names[i])]
		// first column wins when two headers alias the same field
		if ok && !claimed[f] {
			fields[i], known[i] = f, true
			claimed[f] = true
		}
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", cat.ID, err)
		}
		if blank(rec) {
			continue
		}

		row := Row{CategoryID: cat.ID, CategoryName: cat.Name}
		for i, v := range rec {
			if i >= len(header) {
				break
			}
			v = strings.TrimSpace(v)
			if !known[i] {
				if v != "" && names[i] != "" {
					if row.Extra == nil {
						row.Extra = map[string]string{}
					}
					row.Extra[names[i]] = v
				}
				continue
			}
			switch fields[i] {
			case fieldTeam:
				row.TeamName = v
			case fieldLeader:
				row.LeaderName = v
			case fieldTitle:
				row.SolutionTitle = v
			case fieldInstitution:
				row.Institution = v
			}
		}
		if row.TeamName == "" && row.LeaderName == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
