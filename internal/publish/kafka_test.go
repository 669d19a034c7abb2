package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/logger"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_PublishMints(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(w, logger.Discard())
	at := time.Unix(1_700_000_000, 0)
	p.now = func() time.Time { return at }

	events := []domain.MintEvent{
		{Signature: "sig1", Timestamp: 10, SolAmount: decimal.RequireFromString("0.5"), TokenAmount: decimal.NewFromInt(200), From: "lp"},
		{Signature: "sig2", Timestamp: 9, SolAmount: decimal.NewFromInt(1), TokenAmount: decimal.Zero, From: "lp"},
	}
	require.NoError(t, p.PublishMints(context.Background(), events))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "sig1", string(w.msgs[0].Key))
	assert.Equal(t, at, w.msgs[0].Time)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, KindMint, env.Kind)

	var decoded domain.MintEvent
	require.NoError(t, json.Unmarshal(env.Event, &decoded))
	assert.Equal(t, "sig1", decoded.Signature)
	assert.True(t, decoded.SolAmount.Equal(decimal.RequireFromString("0.5")))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_EmptyAndErrors(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(w, logger.Discard())

	require.NoError(t, p.PublishTransfers(context.Background(), nil))
	assert.Empty(t, w.msgs)

	w.err = errors.New("broker down")
	err := p.PublishTransfers(context.Background(), []domain.TransferEvent{{Signature: "t1", To: "buyback"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "events"}, nil)
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events"}, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
