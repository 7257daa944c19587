package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/revolico-scraper/internal/database"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	cmd := redis.NewStatusCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("OK")
	}
	return cmd
}

func (m *MockStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	cmd := redis.NewXStreamSliceCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.Get(0).([]redis.XStream))
	}
	return cmd
}

func (m *MockStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	cmd := redis.NewIntCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(int64(len(ids)))
	}
	return cmd
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func streamOf(msgs ...redis.XMessage) []redis.XStream {
	return []redis.XStream{{Stream: database.DefaultStream, Messages: msgs}}
}

func msg(id, data string) redis.XMessage {
	return redis.XMessage{ID: id, Values: map[string]interface{}{"data": data}}
}

const discovered = `{"id":"a","type":"CUSTOMER_DISCOVERED","payload":{"customer_id":7,"phone":"+5356590251","source_title":"Nevera LG","category":"Electrodomésticos","source_url":"https://www.revolico.com/item/nevera-1"}}`

func TestReadOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("forwards discoveries and acks everything handled", func(t *testing.T) {
		client := new(MockStreamClient)
		notifier := new(MockNotifier)

		client.On("XReadGroup", ctx, mock.Anything).Return(streamOf(
			msg("1-0", discovered),
			msg("2-0", `{"type":"CUSTOMER_CONTACTED","payload":{"phone":"+5352345678"}}`),
			msg("3-0", `not json`),
		), nil)
		client.On("XAck", ctx, database.DefaultStream, "revolico-notifier", mock.Anything).Return(nil)
		notifier.On("Notify", ctx, "Nuevo cliente +5356590251: Nevera LG [Electrodomésticos]\nhttps://www.revolico.com/item/nevera-1").Return(nil)

		c := New(client, notifier, Config{}, discard())
		acked, err := c.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, acked)
		notifier.AssertNumberOfCalls(t, "Notify", 1)
	})

	t.Run("failed notification leaves the message pending", func(t *testing.T) {
		client := new(MockStreamClient)
		notifier := new(MockNotifier)

		client.On("XReadGroup", ctx, mock.Anything).Return(streamOf(msg("1-0", discovered)), nil)
		notifier.On("Notify", ctx, mock.Anything).Return(errors.New("telegram down"))

		c := New(client, notifier, Config{}, discard())
		acked, err := c.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, acked)
		client.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ack failure is not counted", func(t *testing.T) {
		client := new(MockStreamClient)
		notifier := new(MockNotifier)

		client.On("XReadGroup", ctx, mock.Anything).Return(streamOf(msg("1-0", discovered)), nil)
		client.On("XAck", ctx, database.DefaultStream, "revolico-notifier", mock.Anything).Return(errors.New("connection reset"))
		notifier.On("Notify", ctx, mock.Anything).Return(nil)

		c := New(client, notifier, Config{}, discard())
		acked, err := c.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, acked)
		client.AssertNumberOfCalls(t, "XAck", 1)
	})

	t.Run("block timeout is not an error", func(t *testing.T) {
		client := new(MockStreamClient)
		client.On("XReadGroup", ctx, mock.Anything).Return(nil, redis.Nil)

		c := New(client, nil, Config{}, discard())
		acked, err := c.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, acked)
	})
}

func TestEnsureGroup(t *testing.T) {
	ctx := context.Background()

	client := new(MockStreamClient)
	client.On("XGroupCreateMkStream", ctx, "s", "g", "0").Return(errors.New("BUSYGROUP Consumer Group name already exists")).Once()
	c := New(client, nil, Config{Stream: "s", Group: "g"}, discard())
	assert.NoError(t, c.ensureGroup(ctx))

	client = new(MockStreamClient)
	client.On("XGroupCreateMkStream", ctx, "s", "g", "0").Return(errors.New("connection refused"))
	c = New(client, nil, Config{Stream: "s", Group: "g"}, discard())
	assert.Error(t, c.ensureGroup(ctx))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "WhatsApp message to +5356590251 failed: invalid whatsapp number",
		message(database.EventWhatsAppMessageFailed, payload{Phone: "+5356590251", Notes: "invalid whatsapp number"}))
	assert.Equal(t, "Nuevo cliente +5356590251", message(database.EventCustomerDiscovered, payload{Phone: "+5356590251"}))
	assert.Empty(t, message(database.EventWhatsAppMessageSent, payload{Phone: "+5356590251"}))
}
