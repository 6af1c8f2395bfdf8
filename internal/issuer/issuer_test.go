package issuer

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certhub/internal/metrics"
	"certhub/internal/queue"
	"certhub/internal/records"
	"certhub/internal/records/recordstest"
)

var idFormat = regexp.MustCompile(`^INV26-[0-9A-Z]+-[0-9A-Z]{5}$`)

func fixedGenerator(at time.Time, r uint64) *Generator {
	g := NewGenerator("inv26")
	g.now = func() time.Time { return at }
	g.random = func() uint64 { return r }
	return g
}

func TestGenerator_FormatAndMonotonic(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	g := fixedGenerator(at, 0)

	first := g.Next()
	second := g.Next()
	assert.Regexp(t, idFormat, first)
	assert.Equal(t, "INV26-LOYW3V28-00000", first)
	assert.Equal(t, "INV26-LOYW3V29-00000", second)

	live := NewGenerator("INV26")
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := live.Next()
		require.Regexp(t, idFormat, id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSuffixPadsAndWraps(t *testing.T) {
	assert.Equal(t, "0000Z", suffix(35))
	assert.Equal(t, "ZZZZZ", suffix(suffixSpace-1))
	assert.Equal(t, "00000", suffix(suffixSpace))
}

func TestEnsureCertificateID_Idempotent(t *testing.T) {
	store := recordstest.NewMemory(records.ParticipantRecord{Email: "jane@x.com", Name: "Jane Doe"})
	iss := New(NewGenerator("INV26"), DirectPersister{Store: store}, nil, nil)

	rec, err := store.FetchByEmail(context.Background(), "jane@x.com")
	require.NoError(t, err)
	first, err := iss.EnsureCertificateID(context.Background(), rec)
	require.NoError(t, err)
	assert.Regexp(t, idFormat, first)

	rec, err = store.FetchByEmail(context.Background(), "JANE@x.com ")
	require.NoError(t, err)
	second, err := iss.EnsureCertificateID(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Persisted)
}

func TestEnsureCertificateID_ExistingIsReturned(t *testing.T) {
	iss := New(NewGenerator("INV26"), DirectPersister{Store: recordstest.NewMemory()}, nil, nil)
	id, err := iss.EnsureCertificateID(context.Background(), records.ParticipantRecord{CertificateID: "INV26-LQ3K9A-X7F2P"})
	require.NoError(t, err)
	assert.Equal(t, "INV26-LQ3K9A-X7F2P", id)
}

func TestEnsureCertificateID_PersistFailureIsNotFatal(t *testing.T) {
	store := recordstest.NewMemory(records.ParticipantRecord{Email: "jane@x.com"})
	store.PersistErr = errors.New("connection reset")
	m := metrics.New(prometheus.NewRegistry())
	iss := New(NewGenerator("INV26"), DirectPersister{Store: store}, nil, m)

	id, err := iss.EnsureCertificateID(context.Background(), records.ParticipantRecord{Email: "jane@x.com"})
	require.NoError(t, err)
	assert.Regexp(t, idFormat, id)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures))
	assert.Empty(t, store.Get("jane@x.com").CertificateID)
}

func TestEnsureCertificateID_AlreadyIssuedReturnsStored(t *testing.T) {
	store := recordstest.NewMemory(records.ParticipantRecord{Email: "jane@x.com", CertificateID: "INV26-OLD-AAAAA"})
	iss := New(NewGenerator("INV26"), DirectPersister{Store: store}, nil, nil)

	// stale read: the caller has not seen the stored id
	id, err := iss.EnsureCertificateID(context.Background(), records.ParticipantRecord{Email: "jane@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "INV26-OLD-AAAAA", id)
}

func TestEnsureCertificateID_NoEmail(t *testing.T) {
	iss := New(NewGenerator("INV26"), DirectPersister{Store: recordstest.NewMemory()}, nil, nil)
	_, err := iss.EnsureCertificateID(context.Background(), records.ParticipantRecord{Name: "x"})
	assert.ErrorIs(t, err, ErrNoEmail)
}

func TestQueuedPersisterAndApply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(4)
	store := recordstest.NewMemory(records.ParticipantRecord{Email: "jane@x.com"})
	iss := New(NewGenerator("INV26"), QueuedPersister{Queue: q}, nil, nil)

	id, err := iss.EnsureCertificateID(ctx, records.ParticipantRecord{Email: "Jane@X.com"})
	require.NoError(t, err)
	assert.Empty(t, store.Get("jane@x.com").CertificateID)

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	msg := <-ch
	job, err := queue.DecodeCertificateID(msg)
	require.NoError(t, err)
	assert.Equal(t, "jane@x.com", job.Email)
	assert.Equal(t, id, job.CertificateID)
	assert.NotEmpty(t, job.JobID)

	stored, err := Apply(ctx, store, job)
	require.NoError(t, err)
	assert.Equal(t, id, stored)

	job.CertificateID = "INV26-OTHER-BBBBB"
	stored, err = Apply(ctx, store, job)
	require.NoError(t, err)
	assert.Equal(t, id, stored)
}

func TestQueuedPersisterPublishFailure(t *testing.T) {
	q := queue.NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := QueuedPersister{Queue: q}.Persist(ctx, "a@b.c", "INV26-X-00000")
	assert.Error(t, err)
}

func TestQueuedPersister_ReusesPendingID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(4)
	pending := NewMemoryReservations()
	store := recordstest.NewMemory(records.ParticipantRecord{Email: "jane@x.com"})
	iss := New(NewGenerator("INV26"), QueuedPersister{Queue: q, Pending: pending}, nil, nil)

	first, err := iss.EnsureCertificateID(ctx, store.Get("jane@x.com"))
	require.NoError(t, err)
	// the worker has not written the first id yet
	second, err := iss.EnsureCertificateID(ctx, store.Get("jane@x.com"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	job, err := queue.DecodeCertificateID(<-ch)
	require.NoError(t, err)
	assert.Equal(t, first, job.CertificateID)
	select {
	case msg := <-ch:
		t.Fatalf("second job queued: %+v", msg)
	default:
	}

	_, err = Apply(ctx, store, job)
	require.NoError(t, err)
	require.NoError(t, pending.Release(ctx, job.Email, job.CertificateID))
	assert.Equal(t, first, store.Get("jane@x.com").CertificateID)

	third, err := iss.EnsureCertificateID(ctx, store.Get("jane@x.com"))
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestQueuedPersister_PublishFailureReleasesHold(t *testing.T) {
	q := queue.NewInMemory(0)
	pending := NewMemoryReservations()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := QueuedPersister{Queue: q, Pending: pending}.Persist(ctx, "a@b.c", "INV26-X-00000")
	require.Error(t, err)
	_, held := pending.Held("a@b.c")
	assert.False(t, held)
}

func TestMemoryReservations(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryReservations()

	held, err := r.Reserve(ctx, "a@b.c", "ID-1")
	require.NoError(t, err)
	assert.Equal(t, "ID-1", held)
	held, err = r.Reserve(ctx, "a@b.c", "ID-2")
	require.NoError(t, err)
	assert.Equal(t, "ID-1", held)

	require.NoError(t, r.Release(ctx, "a@b.c", "ID-2"))
	id, ok := r.Held("a@b.c")
	assert.True(t, ok, "release of another id keeps the hold")
	assert.Equal(t, "ID-1", id)

	require.NoError(t, r.Release(ctx, "a@b.c", "ID-1"))
	_, ok = r.Held("a@b.c")
	assert.False(t, ok)
}

func TestRedisReservations_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()
	r := NewRedisReservations(client, "", time.Minute)

	_, err := r.Reserve(context.Background(), "a@b.c", "ID-1")
	assert.Error(t, err)
	assert.Error(t, r.Release(context.Background(), "a@b.c", "ID-1"))
}

func TestQueuedPersister_ReservationError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()
	q := queue.NewInMemory(4)
	m := metrics.New(prometheus.NewRegistry())
	iss := New(NewGenerator("INV26"), QueuedPersister{Queue: q, Pending: NewRedisReservations(client, "", time.Minute)}, nil, m)

	id, err := iss.EnsureCertificateID(context.Background(), records.ParticipantRecord{Email: "jane@x.com"})
	require.NoError(t, err)
	assert.Regexp(t, idFormat, id)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures))
}
