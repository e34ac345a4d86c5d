package pgmq

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	"gatekeeper/internal/model"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to a Postgres with the pgmq extension, or skips.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PGMQ_URL")
	if dsn == "" {
		t.Skip("TEST_PGMQ_URL is not set, skip pgmq integration test")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())
	return db
}

func TestLifecycleQueueRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	client := New(db)
	queue := "lifecycle_test_" + time.Now().Format("150405")
	require.NoError(t, client.Create(ctx, queue))
	t.Cleanup(func() { _, _ = db.Exec("SELECT pgmq.drop_queue($1)", queue) })

	e, err := model.NewLifecycleEvent("evt_1", model.EventSourceStripe, model.EventInvoicePaid, "sub_1", time.Now().UTC(),
		model.InvoicePayload{InvoiceID: "in_1", ProviderSubscriptionID: "sub_1"})
	require.NoError(t, err)
	require.NoError(t, NewLifecycleQueue(client, queue).Enqueue(ctx, e))

	msgs, err := client.ReadWithPoll(ctx, queue, 30, 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].ReadCount)

	var got model.LifecycleEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "evt_1", got.ID)
	assert.Equal(t, model.EventInvoicePaid, got.Type)

	// Hidden messages are not redelivered until the visibility timeout passes.
	again, err := client.ReadWithPoll(ctx, queue, 30, 10, 1)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, client.SetVisibility(ctx, queue, msgs[0].ID, 0))
	again, err = client.ReadWithPoll(ctx, queue, 30, 10, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].ReadCount)

	require.NoError(t, client.Delete(ctx, queue, []int64{again[0].ID}))
}
