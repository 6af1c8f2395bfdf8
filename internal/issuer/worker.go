package issuer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"certhub/internal/queue"
	"certhub/internal/records"
)

// RunWorker consumes certificate_id jobs until ctx is done or the queue closes.
// Failed writes are logged and dropped; the next verification of the same
// participant issues a fresh attempt. After each job the pending hold on its
// id is released, so later requests read the store.
func RunWorker(ctx context.Context, q queue.Queue, store records.Store, pending Reservations, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}

	log.Info("worker started, waiting for messages")
	for msg := range messages {
		job, err := queue.DecodeCertificateID(msg)
		if err != nil {
			log.Warn("skipping message", zap.String("type", msg.Type), zap.Error(err))
			continue
		}
		stored, err := Apply(ctx, store, job)
		if pending != nil {
			if rerr := pending.Release(ctx, job.Email, job.CertificateID); rerr != nil {
				log.Warn("pending id not released", zap.String("job_id", job.JobID), zap.Error(rerr))
			}
		}
		if err != nil {
			log.Error("certificate id write failed",
				zap.String("job_id", job.JobID), zap.String("email", job.Email), zap.Error(err))
			continue
		}
		if stored != "" && stored != job.CertificateID {
			log.Info("kept previously issued certificate id",
				zap.String("job_id", job.JobID), zap.String("stored", stored), zap.String("discarded", job.CertificateID))
			continue
		}
		log.Info("certificate id persisted", zap.String("job_id", job.JobID), zap.String("certificate_id", job.CertificateID))
	}
	log.Info("worker stopped")
	return nil
}
