package records

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

// Header names of the participant sheet. Columns are located by name so the
// registration team can reorder them freely.
const (
	colEmail       = "email_id"
	colName        = "name"
	colTeam        = "team"
	colUserType    = "user_type"
	colPosition    = "team_position"
	colCertificate = "certificate_hash_id"
)

// SheetsStore reads participants from a Google Sheets tab.
type SheetsStore struct {
	srv           *sheetsv4.Service
	spreadsheetID string
	sheet         string
	timeout       time.Duration
}

// NewSheetsStore authenticates with a service account file. An empty path
// leaves authentication to opts.
func NewSheetsStore(ctx context.Context, serviceAccountJSONPath, spreadsheetID, sheet string, timeout time.Duration, opts ...option.ClientOption) (*SheetsStore, error) {
	clientOpts := []option.ClientOption{option.WithScopes(sheetsv4.SpreadsheetsScope)}
	if serviceAccountJSONPath != "" {
		if _, err := os.Stat(serviceAccountJSONPath); err != nil {
			return nil, fmt.Errorf("service account json: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(serviceAccountJSONPath))
	}
	srv, err := sheetsv4.NewService(ctx, append(clientOpts, opts...)...)
	if err != nil {
		return nil, err
	}
	return &SheetsStore{srv: srv, spreadsheetID: spreadsheetID, sheet: sheet, timeout: timeout}, nil
}

// FetchByEmail returns the participant registered with email.
func (s *SheetsStore) FetchByEmail(ctx context.Context, email string) (ParticipantRecord, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return ParticipantRecord{}, ErrNotFound
	}
	tbl, err := s.load(ctx)
	if err != nil {
		return ParticipantRecord{}, err
	}
	rec, _, ok := tbl.find(func(r ParticipantRecord) bool { return r.Email == email })
	if !ok {
		return ParticipantRecord{}, ErrNotFound
	}
	return rec, nil
}

// FetchByCertificateID returns the participant holding certificate id.
func (s *SheetsStore) FetchByCertificateID(ctx context.Context, id string) (ParticipantRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ParticipantRecord{}, ErrNotFound
	}
	tbl, err := s.load(ctx)
	if err != nil {
		return ParticipantRecord{}, err
	}
	rec, _, ok := tbl.find(func(r ParticipantRecord) bool { return r.CertificateID == id })
	if !ok {
		return ParticipantRecord{}, ErrNotFound
	}
	return rec, nil
}

// PersistCertificateID re-reads the row, writes the cell only when it is empty,
// then reads it back. Sheets has no conditional update, so a concurrent writer
// between the read and the write can still win; the read-back reports it.
func (s *SheetsStore) PersistCertificateID(ctx context.Context, email, id string) (string, error) {
	email = NormalizeEmail(email)
	tbl, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	rec, rowNum, ok := tbl.find(func(r ParticipantRecord) bool { return r.Email == email })
	if !ok {
		return "", ErrNotFound
	}
	if rec.HasCertificate() {
		if rec.CertificateID == id {
			return id, nil
		}
		return rec.CertificateID, ErrAlreadyIssued
	}
	col, ok := tbl.columns[colCertificate]
	if !ok {
		return "", fmt.Errorf("%w: sheet %s has no %s column", ErrStoreUnavailable, s.sheet, colCertificate)
	}

	a1 := fmt.Sprintf("%s%d", columnLetter(col), rowNum)
	if err := s.updateCell(ctx, a1, id); err != nil {
		return "", err
	}

	stored, err := s.FetchByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if stored.CertificateID != id {
		return stored.CertificateID, ErrAlreadyIssued
	}
	return id, nil
}

func (s *SheetsStore) load(ctx context.Context) (sheetTable, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, s.sheet+"!A:Z").Context(ctx).Do()
	if err != nil {
		return sheetTable{}, fmt.Errorf("%w: read sheet %s: %w", ErrStoreUnavailable, s.sheet, err)
	}
	return decodeSheet(resp.Values), nil
}

func (s *SheetsStore) updateCell(ctx context.Context, a1 string, value interface{}) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	vr := &sheetsv4.ValueRange{Values: [][]interface{}{{value}}}
	_, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, s.sheet+"!"+a1, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("%w: update %s: %w", ErrStoreUnavailable, a1, err)
	}
	return nil
}

// sheetTable is the decoded participant tab. rows[i] lives on sheet row i+2
// (row 1 is the header).
type sheetTable struct {
	columns map[string]int
	rows    []ParticipantRecord
}

func decodeSheet(values [][]interface{}) sheetTable {
	tbl := sheetTable{columns: map[string]int{}}
	if len(values) == 0 {
		return tbl
	}
	for i, h := range values[0] {
		name := strings.ToLower(strings.TrimSpace(fmt.Sprint(h)))
		if _, dup := tbl.columns[name]; !dup && name != "" {
			tbl.columns[name] = i
		}
	}
	for i := 1; i < len(values); i++ {
		row := values[i]
		tbl.rows = append(tbl.rows, ParticipantRecord{
			Email:         NormalizeEmail(tbl.get(row, colEmail)),
			Name:          strings.TrimSpace(tbl.get(row, colName)),
			Team:          strings.TrimSpace(tbl.get(row, colTeam)),
			Role:          ParseRole(tbl.get(row, colUserType)),
			TeamPosition:  strings.TrimSpace(tbl.get(row, colPosition)),
			CertificateID: strings.TrimSpace(tbl.get(row, colCertificate)),
		})
	}
	return tbl
}

func (t sheetTable) get(row []interface{}, column string) string {
	idx, ok := t.columns[column]
	if !ok || idx >= len(row) || row[idx] == nil {
		return ""
	}
	return fmt.Sprint(row[idx])
}

func (t sheetTable) find(match func(ParticipantRecord) bool) (ParticipantRecord, int, bool) {
	for i, r := range t.rows {
		if r.Email == "" {
			continue
		}
		if match(r) {
			return r, i + 2, true
		}
	}
	return ParticipantRecord{}, 0, false
}

// columnLetter converts a zero-based column index to A1 notation (0 -> A, 26 -> AA).
func columnLetter(idx int) string {
	s := ""
	for idx >= 0 {
		s = string(rune('A'+idx%26)) + s
		idx = idx/26 - 1
	}
	return s
}
