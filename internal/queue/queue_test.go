package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInMemoryDeliversCertificateIDJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	job := CertificateIDJob{JobID: "j1", Email: "jane@x.com", CertificateID: "INV26-LQ3K9A-X7F2P"}
	msg, err := NewCertificateIDMessage(job)
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case got := <-ch:
		decoded, err := DecodeCertificateID(got)
		require.NoError(t, err)
		assert.Equal(t, job, decoded)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	for range ch {
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "x"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "x"}), context.DeadlineExceeded)
}

func TestDecodeCertificateIDRejectsBadMessages(t *testing.T) {
	_, err := DecodeCertificateID(Message{Type: "checkin", Body: []byte(`{}`)})
	assert.Error(t, err)

	_, err = DecodeCertificateID(Message{Type: TypeCertificateID, Body: []byte(`{"email":"a@b.c"}`)})
	assert.Error(t, err)

	_, err = DecodeCertificateID(Message{Type: TypeCertificateID, Body: []byte(`not json`)})
	assert.Error(t, err)
}
