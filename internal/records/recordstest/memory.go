// Package recordstest provides an in-memory records.Store for tests.
package recordstest

import (
	"context"
	"sync"

	"certhub/internal/records"
)

// Memory is a records.Store backed by a map. Set FailWith to simulate a store outage.
type Memory struct {
	mu       sync.Mutex
	rows     map[string]records.ParticipantRecord
	FailWith error
	// PersistErr makes only PersistCertificateID fail.
	PersistErr error
	Persisted  int
}

// NewMemory seeds the store with recs.
func NewMemory(recs ...records.ParticipantRecord) *Memory {
	m := &Memory{rows: map[string]records.ParticipantRecord{}}
	for _, r := range recs {
		r.Email = records.NormalizeEmail(r.Email)
		m.rows[r.Email] = r
	}
	return m
}

func (m *Memory) FetchByEmail(_ context.Context, email string) (records.ParticipantRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return records.ParticipantRecord{}, m.FailWith
	}
	rec, ok := m.rows[records.NormalizeEmail(email)]
	if !ok {
		return records.ParticipantRecord{}, records.ErrNotFound
	}
	return rec, nil
}

func (m *Memory) FetchByCertificateID(_ context.Context, id string) (records.ParticipantRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return records.ParticipantRecord{}, m.FailWith
	}
	for _, rec := range m.rows {
		if id != "" && rec.CertificateID == id {
			return rec, nil
		}
	}
	return records.ParticipantRecord{}, records.ErrNotFound
}

func (m *Memory) PersistCertificateID(_ context.Context, email, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return "", m.FailWith
	}
	if m.PersistErr != nil {
		return "", m.PersistErr
	}
	email = records.NormalizeEmail(email)
	rec, ok := m.rows[email]
	if !ok {
		return "", records.ErrNotFound
	}
	if rec.HasCertificate() && rec.CertificateID != id {
		return rec.CertificateID, records.ErrAlreadyIssued
	}
	rec.CertificateID = id
	m.rows[email] = rec
	m.Persisted++
	return id, nil
}

// Get returns the stored row without error handling, for assertions.
func (m *Memory) Get(email string) records.ParticipantRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[records.NormalizeEmail(email)]
}
