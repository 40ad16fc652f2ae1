package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"k1:9092", "k2:9092"}, "l3sim.book", zap.NewNop())
	defer p.Close()

	assert.Equal(t, "l3sim.book", p.writer.Topic)
	assert.Equal(t, kafka.RequireAll, p.writer.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	assert.False(t, p.writer.Async)
	assert.NotNil(t, p.writer.ErrorLogger)

	bare := NewProducer([]string{"k1:9092"}, "t", nil)
	defer bare.Close()
	assert.Nil(t, bare.writer.ErrorLogger)
}
