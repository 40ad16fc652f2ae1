package broadcaster

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l3sim/infra/outbox"
)

func newBox(t *testing.T, payloads ...string) *outbox.Outbox {
	t.Helper()
	box, err := outbox.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { box.Close() })
	for _, p := range payloads {
		_, err := box.Append([]byte(p))
		require.NoError(t, err)
	}
	return box
}

func mockProducer(t *testing.T) *mocks.SyncProducer {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewSyncProducer(t, cfg)
}

func TestFlush_AcksPublished(t *testing.T) {
	box := newBox(t, `{"seq":1}`, `{"seq":2}`)
	p := mockProducer(t)
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(v []byte) error {
		if string(v) != `{"seq":1}` {
			return errors.New("out of order")
		}
		return nil
	})
	p.ExpectSendMessageAndSucceed()

	b := NewWithProducer(box, p, "l3sim.events", nil)
	acked, failed, err := b.Flush()
	require.NoError(t, err)
	assert.Equal(t, 2, acked)
	assert.Zero(t, failed)

	for _, seq := range []uint64{1, 2} {
		e, err := box.Get(seq)
		require.NoError(t, err)
		assert.Equal(t, outbox.StateAcked, e.State)
	}
	require.NoError(t, b.Close())
}

func TestFlush_RetriesFailed(t *testing.T) {
	box := newBox(t, "a")
	p := mockProducer(t)
	p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	p.ExpectSendMessageAndSucceed()

	b := NewWithProducer(box, p, "l3sim.events", nil)

	acked, failed, err := b.Flush()
	require.NoError(t, err)
	assert.Zero(t, acked)
	assert.Equal(t, 1, failed)

	e, err := box.Get(1)
	require.NoError(t, err)
	assert.Equal(t, outbox.StateFailed, e.State)
	assert.Equal(t, uint32(1), e.Retries)

	acked, failed, err = b.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, acked)
	assert.Zero(t, failed)

	e, err = box.Get(1)
	require.NoError(t, err)
	assert.Equal(t, outbox.StateAcked, e.State)
	require.NoError(t, b.Close())
}

func TestFlush_EmptyOutbox(t *testing.T) {
	p := mockProducer(t)
	b := NewWithProducer(newBox(t), p, "l3sim.events", nil)

	acked, failed, err := b.Flush()
	require.NoError(t, err)
	assert.Zero(t, acked+failed)
	require.NoError(t, b.Close())
}
