package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coaching-engine/booking"
)

func approvedEvent() booking.Event {
	start := time.Date(2024, time.June, 10, 18, 0, 0, 0, time.UTC)
	balance := int64(0)
	return booking.Event{
		Name:          booking.EventReservationApproved,
		ReservationID: "r-1",
		GuardianID:    "g-1",
		ActorID:       "admin",
		ActorRole:     booking.RoleAdmin,
		From:          booking.StatusPending,
		To:            booking.StatusApproved,
		Start:         &start,
		Amount:        -1,
		Balance:       &balance,
		OccurredAt:    start.Add(-48 * time.Hour),
	}
}

// =============================================================================
// FAKES
// =============================================================================

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { w.closed = true; return nil }

type fakeChannel struct {
	keys []string
	pubs []amqp.Publishing
	err  error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, exchange+"/"+key)
	c.pubs = append(c.pubs, msg)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

// =============================================================================
// TESTS
// =============================================================================

func TestKafka_PublishesKeyedByGuardian(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, topic: "coaching.events"}

	require.NoError(t, k.Notify(context.Background(), approvedEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "g-1", string(msg.Key))
	assert.Equal(t, "event", msg.Headers[0].Key)
	assert.Equal(t, "reservation.approved", string(msg.Headers[0].Value))

	var decoded booking.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, booking.EventReservationApproved, decoded.Name)
	assert.Equal(t, booking.StatusApproved, decoded.To)
	require.NotNil(t, decoded.Balance)
	assert.Zero(t, *decoded.Balance)

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafka_WrapsWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	k := &Kafka{writer: w, topic: "coaching.events"}

	err := k.Notify(context.Background(), approvedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
	assert.Contains(t, err.Error(), "coaching.events")
}

func TestNewKafka_Validates(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Topic: "t"})
	assert.Error(t, err)

	_, err = NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"})
	require.NoError(t, err)
	assert.NoError(t, k.Close())
}

func TestAMQP_PublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	a := &AMQP{ch: ch, queue: "coaching.events"}

	require.NoError(t, a.Notify(context.Background(), approvedEvent()))
	require.Len(t, ch.pubs, 1)

	assert.Equal(t, "/coaching.events", ch.keys[0])
	pub := ch.pubs[0]
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "reservation.approved", pub.Type)
	assert.Contains(t, string(pub.Body), `"reservation_id":"r-1"`)

	assert.NoError(t, a.Close())
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	// GIVEN: Three notifiers, two of which fail
	// THEN: All three are called and both errors are reported

	errA, errB := errors.New("a down"), errors.New("b down")
	var calls int
	count := booking.NotifierFunc(func(context.Context, booking.Event) error { calls++; return nil })
	m := Multi{
		booking.NotifierFunc(func(context.Context, booking.Event) error { return errA }),
		count,
		booking.NotifierFunc(func(context.Context, booking.Event) error { return errB }),
	}

	err := m.Notify(context.Background(), approvedEvent())
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 1, calls)

	assert.NoError(t, Multi{count}.Notify(context.Background(), approvedEvent()))
}

func TestLog_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, l.Notify(context.Background(), approvedEvent()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "reservation.approved", line["event"])
	assert.Equal(t, "r-1", line["reservation_id"])
	assert.Equal(t, float64(0), line["balance"])
}
