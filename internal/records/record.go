// Package records reads verified participant identities from the remote record
// store and writes back the certificate id on first issuance.
package records

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound means no participant row exists for the key.
	ErrNotFound = errors.New("participant not found")
	// ErrStoreUnavailable wraps transport and service failures of the record store.
	ErrStoreUnavailable = errors.New("record store unavailable")
	// ErrAlreadyIssued is returned by PersistCertificateID when a different id was stored first.
	ErrAlreadyIssued = errors.New("certificate id already issued")
)

// Role is the participant's function at the event.
type Role string

const (
	RoleUnknown     Role = ""
	RoleMentor      Role = "mentor"
	RoleCoordinator Role = "coordinator"
	RoleVolunteer   Role = "volunteer"
	RoleParticipant Role = "participant"
)

// ParseRole maps stored user_type values, including the registration system's
// student_* spellings, onto a Role.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mentor":
		return RoleMentor
	case "coordinator", "student_coordinator":
		return RoleCoordinator
	case "volunteer":
		return RoleVolunteer
	case "participant", "student_participant":
		return RoleParticipant
	default:
		return RoleUnknown
	}
}

// Label is the human readable role name.
func (r Role) Label() string {
	switch r {
	case RoleMentor:
		return "Mentor"
	case RoleCoordinator:
		return "Student Coordinator"
	case RoleVolunteer:
		return "Volunteer"
	case RoleParticipant:
		return "Student Participant"
	default:
		return "Unknown"
	}
}

// ParticipantRecord is one verified identity from the record store.
type ParticipantRecord struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Team          string `json:"team,omitempty"`
	Role          Role   `json:"role"`
	TeamPosition  string `json:"team_position,omitempty"`
	CertificateID string `json:"certificate_id,omitempty"`
}

// HasCertificate reports whether an id has been issued already.
func (p ParticipantRecord) HasCertificate() bool {
	return strings.TrimSpace(p.CertificateID) != ""
}

// Store is the contract every record store backend satisfies.
type Store interface {
	FetchByEmail(ctx context.Context, email string) (ParticipantRecord, error)
	FetchByCertificateID(ctx context.Context, id string) (ParticipantRecord, error)
	// PersistCertificateID sets the id only if none is stored and returns the
	// id that is stored afterwards.
	PersistCertificateID(ctx context.Context, email, id string) (string, error)
}

// NormalizeEmail lowercases and trims an address before lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
