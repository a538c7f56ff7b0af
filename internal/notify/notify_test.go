package notify

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockWriter struct {
	msgs []kafka.Message
	err  error
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.msgs = append(m.msgs, msgs...)
	return m.err
}

func decodeEmail(t *testing.T, data []byte) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		out[key] = v
		return err
	})
	require.NoError(t, err)
	return out
}

func TestKafka_SendEmail(t *testing.T) {
	w := &mockWriter{}
	n := NewKafka(w, "emails")

	err := n.SendEmail(context.Background(), "premium@email.com", "Seu Pedido foi Aprovado!", `Pedido "1" aprovado`)
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "emails", msg.Topic)
	assert.Equal(t, "premium@email.com", string(msg.Key))
	assert.Equal(t, map[string]string{
		"to":      "premium@email.com",
		"subject": "Seu Pedido foi Aprovado!",
		"body":    `Pedido "1" aprovado`,
	}, decodeEmail(t, msg.Value))
}

func TestKafka_SendEmailError(t *testing.T) {
	writeErr := errors.New("broker unavailable")
	n := NewKafka(&mockWriter{err: writeErr}, "emails")

	err := n.SendEmail(context.Background(), "a@b.c", "s", "b")
	require.ErrorIs(t, err, writeErr)
	assert.Contains(t, err.Error(), "publish email")
}

func TestLog_SendEmail(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	require.NoError(t, Log{}.SendEmail(ctx, "a@b.c", "subject", "body"))

	entries := logs.FilterMessage("email").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "a@b.c", entries[0].ContextMap()["to"])
}

func TestNewWriter(t *testing.T) {
	w := NewWriter([]string{"kafka-1:9092"})
	t.Cleanup(func() { _ = w.Close() })

	assert.Equal(t, WriterBatchTimeout, w.BatchTimeout)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}
