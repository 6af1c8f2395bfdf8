// Package issuer hands out certificate ids on first issuance and writes them
// back to the record store.
package issuer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"certhub/internal/metrics"
	"certhub/internal/queue"
	"certhub/internal/records"
)

// ErrNoEmail is returned for records that cannot be keyed in the store.
var ErrNoEmail = errors.New("record has no email")

// Persister writes an id back for email. It returns the id the store holds.
type Persister interface {
	Persist(ctx context.Context, email, id string) (string, error)
}

// Issuer implements EnsureCertificateID.
type Issuer struct {
	gen       *Generator
	persister Persister
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func New(gen *Generator, p Persister, log *zap.Logger, m *metrics.Metrics) *Issuer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Issuer{gen: gen, persister: p, log: log, metrics: m}
}

// EnsureCertificateID returns the record's id if it has one. Otherwise it
// generates one and persists it. A failed write is logged and the generated id
// is still returned; if the store already held another id, that id wins.
func (i *Issuer) EnsureCertificateID(ctx context.Context, rec records.ParticipantRecord) (string, error) {
	if rec.HasCertificate() {
		return rec.CertificateID, nil
	}
	email := records.NormalizeEmail(rec.Email)
	if email == "" {
		return "", ErrNoEmail
	}

	id := i.gen.Next()
	i.metrics.Issued()

	stored, err := i.persister.Persist(ctx, email, id)
	switch {
	case err == nil:
		if stored != "" && stored != id {
			i.log.Debug("reusing pending certificate id", zap.String("email", email), zap.String("certificate_id", stored))
			return stored, nil
		}
		return id, nil
	case errors.Is(err, records.ErrAlreadyIssued) && stored != "":
		i.log.Info("certificate id already issued concurrently",
			zap.String("email", email), zap.String("stored", stored), zap.String("discarded", id))
		return stored, nil
	default:
		i.metrics.PersistFailed()
		i.log.Warn("certificate id not persisted",
			zap.String("email", email), zap.String("certificate_id", id), zap.Error(err))
		return id, nil
	}
}

// DirectPersister performs the conditional write synchronously.
type DirectPersister struct {
	Store records.Store
}

func (p DirectPersister) Persist(ctx context.Context, email, id string) (string, error) {
	return p.Store.PersistCertificateID(ctx, email, id)
}

// QueuedPersister hands the write to the worker. While the job is queued the
// id is held in Pending, and a second issuance for the same email returns the
// held id instead of queueing another.
type QueuedPersister struct {
	Queue   queue.Queue
	Pending Reservations
}

func (p QueuedPersister) Persist(ctx context.Context, email, id string) (string, error) {
	if p.Pending != nil {
		held, err := p.Pending.Reserve(ctx, email, id)
		if err != nil {
			return "", err
		}
		if held != id {
			return held, nil
		}
	}
	msg, err := queue.NewCertificateIDMessage(queue.CertificateIDJob{
		JobID:         uuid.NewString(),
		Email:         email,
		CertificateID: id,
	})
	if err == nil {
		err = p.Queue.Publish(ctx, msg)
	}
	if err != nil {
		if p.Pending != nil {
			_ = p.Pending.Release(context.WithoutCancel(ctx), email, id)
		}
		return "", fmt.Errorf("publish job: %w", err)
	}
	return id, nil
}

// Apply runs one queued job against the store. A different id already stored
// is not an error for the worker.
func Apply(ctx context.Context, store records.Store, job queue.CertificateIDJob) (string, error) {
	stored, err := store.PersistCertificateID(ctx, job.Email, job.CertificateID)
	if errors.Is(err, records.ErrAlreadyIssued) {
		return stored, nil
	}
	return stored, err
}
