package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const selectColumns = `email_id, COALESCE(name, ''), team, COALESCE(user_type, ''), team_position, certificate_hash_id`

// SQLStore persists participants in Postgres (pgx) or SQLite.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	timeout  time.Duration
}

// NewSQLStore creates a repo. driver selects the placeholder style.
func NewSQLStore(db *sql.DB, driver string, timeout time.Duration) *SQLStore {
	return &SQLStore{db: db, postgres: driver == "pgx", timeout: timeout}
}

// FetchByEmail returns the participant registered with email.
func (s *SQLStore) FetchByEmail(ctx context.Context, email string) (ParticipantRecord, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return ParticipantRecord{}, ErrNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+selectColumns+`
		FROM id_card_users WHERE LOWER(TRIM(email_id)) = ?
	`), email)
	return scanRecord(row)
}

// FetchByCertificateID returns the participant holding certificate id.
func (s *SQLStore) FetchByCertificateID(ctx context.Context, id string) (ParticipantRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ParticipantRecord{}, ErrNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+selectColumns+`
		FROM id_card_users WHERE certificate_hash_id = ?
	`), id)
	return scanRecord(row)
}

// PersistCertificateID writes id only when the row has none, then reads the row
// back and returns whatever id is stored.
func (s *SQLStore) PersistCertificateID(ctx context.Context, email, id string) (string, error) {
	email = NormalizeEmail(email)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE id_card_users
		SET certificate_hash_id = ?
		WHERE LOWER(TRIM(email_id)) = ?
		  AND (certificate_hash_id IS NULL OR certificate_hash_id = '')
	`), id, email)
	if err != nil {
		return "", fmt.Errorf("%w: update certificate id: %w", ErrStoreUnavailable, err)
	}

	rec, err := s.FetchByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if rec.CertificateID != id {
		return rec.CertificateID, ErrAlreadyIssued
	}
	return id, nil
}

// Insert adds a participant row. Registration owns this table in production;
// the CLI and tests use it to seed local databases.
func (s *SQLStore) Insert(ctx context.Context, rec ParticipantRecord) error {
	if NormalizeEmail(rec.Email) == "" {
		return errors.New("email required")
	}
	userType := string(rec.Role)
	switch rec.Role {
	case RoleParticipant:
		userType = "student_participant"
	case RoleCoordinator:
		userType = "student_coordinator"
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO id_card_users (email_id, name, team, user_type, team_position, certificate_hash_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`), NormalizeEmail(rec.Email), rec.Name, nullable(rec.Team), userType, nullable(rec.TeamPosition), nullable(rec.CertificateID))
	return err
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func scanRecord(row *sql.Row) (ParticipantRecord, error) {
	var (
		rec                    ParticipantRecord
		role                   string
		team, position, certID sql.NullString
	)
	if err := row.Scan(&rec.Email, &rec.Name, &team, &role, &position, &certID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ParticipantRecord{}, ErrNotFound
		}
		return ParticipantRecord{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	rec.Email = NormalizeEmail(rec.Email)
	rec.Team = team.String
	rec.Role = ParseRole(role)
	rec.TeamPosition = position.String
	rec.CertificateID = strings.TrimSpace(certID.String)
	return rec, nil
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
