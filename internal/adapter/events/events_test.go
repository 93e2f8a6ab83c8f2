package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-settlement/internal/core/domain"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	published  []published
	declareErr error
	publishErr error
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if f.declareErr != nil {
		return f.declareErr
	}
	if kind == amqp.ExchangeTopic && durable {
		f.declared = append(f.declared, name)
	}
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher_DeclaresDurableTopicExchange(t *testing.T) {
	ch := &fakeChannel{}
	_, err := newAMQPPublisher(ch, "settlement.events", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"settlement.events"}, ch.declared)
}

func TestAMQPPublisher_DeclareFailureClosesChannel(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	_, err := newAMQPPublisher(ch, "settlement.events", zerolog.Nop())
	assert.Error(t, err)
	assert.True(t, ch.closed)
}

func TestAMQPPublisher_PublishRoutesByType(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "settlement.events", zerolog.Nop())
	require.NoError(t, err)

	vendorID := uuid.New()
	evt := domain.NewSettlementEvent(domain.EventPayoutCompleted, uuid.New())
	evt.VendorID = &vendorID
	evt.Amount = 980

	require.NoError(t, p.Publish(context.Background(), evt, domain.NewSettlementEvent(domain.EventOrderPaid, uuid.New())))
	require.Len(t, ch.published, 2)

	first := ch.published[0]
	assert.Equal(t, "settlement.events", first.exchange)
	assert.Equal(t, "payout.completed", first.key)
	assert.Equal(t, amqp.Persistent, first.msg.DeliveryMode)
	assert.Equal(t, evt.ID.String(), first.msg.MessageId)

	var decoded domain.SettlementEvent
	require.NoError(t, json.Unmarshal(first.msg.Body, &decoded))
	assert.Equal(t, int64(980), decoded.Amount)
	assert.Equal(t, vendorID, *decoded.VendorID)

	assert.Equal(t, "order.paid", ch.published[1].key)
}

func TestAMQPPublisher_PublishError(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "x", zerolog.Nop())
	require.NoError(t, err)
	ch.publishErr = amqp.ErrClosed

	err = p.Publish(context.Background(), domain.NewSettlementEvent(domain.EventOrderCreated, uuid.New()))
	assert.ErrorIs(t, err, amqp.ErrClosed)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	assert.NoError(t, p.Ping(context.Background()))
	assert.Equal(t, "rabbitmq", p.Name())
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	evt := domain.NewSettlementEvent(domain.EventOrderCancelled, uuid.New())
	require.NoError(t, p.Publish(context.Background(), evt))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "order.cancelled", line["event_type"])
	assert.Equal(t, "events", line["component"])
	assert.NoError(t, p.Close())
}
