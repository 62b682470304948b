package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hatdata/internal/entity"
	"github.com/roach88/hatdata/internal/property"
	"github.com/roach88/hatdata/internal/repository"
	"github.com/roach88/hatdata/internal/storage/memory"
	"github.com/roach88/hatdata/internal/testutil"
)

type queueFixture struct {
	engine   *Engine
	endpoint *memory.Adapter
	received []map[string]any
}

// newQueue builds a command-queue engine whose endpoint answers every
// command with the given status.
func newQueue(t *testing.T, status string, opts ...Option) *queueFixture {
	t.Helper()
	f := &queueFixture{}
	f.endpoint = memory.New(memory.WithResponder(func(_ context.Context, _ string, value any) (any, error) {
		sent := value.(map[string]any)
		f.received = append(f.received, sent)
		return map[string]any{
			"id":      100 + len(f.received),
			"command": sent["command"],
			"status":  status,
			"message": "processed " + sent["command"].(string),
		}, nil
	}))

	local, err := repository.New(CommandQueueSchema("Outbox"), repository.WithAdapter(memory.New()))
	require.NoError(t, err)
	remote, err := repository.New(
		CommandEndpointSchema("Endpoint", property.Definition{Name: "qty", Type: property.TypeInt}),
		repository.WithAdapter(f.endpoint),
	)
	require.NoError(t, err)

	opts = append([]Option{
		WithMode(ModeCommandQueue),
		WithClock(testutil.NewFakeClock(testStart)),
		WithCommands(NewCommand("restock", DefaultHandler)),
	}, opts...)
	e, err := New(local, remote, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Destroy() })
	f.engine = e
	return f
}

func getValue(t *testing.T, item *entity.Entity, name string) any {
	t.Helper()
	v, err := item.Get(name)
	require.NoError(t, err)
	return v
}

func TestQueueCommand_DispatchesWhileOnline(t *testing.T) {
	ctx := context.Background()
	f := newQueue(t, StatusOK)
	e := f.engine

	item, err := e.QueueCommand(ctx, "restock", map[string]any{"qty": 3})
	require.NoError(t, err)

	require.Len(t, f.received, 1)
	assert.Equal(t, "restock", f.received[0]["command"])
	assert.EqualValues(t, 3, f.received[0]["qty"])

	assert.Same(t, item, e.Local().GetFirst(), "the queued item keeps its identity")
	assert.Equal(t, 1, e.Local().Len())
	assert.True(t, item.IsPersisted())
	assert.False(t, item.IsDirty())
	assert.Equal(t, true, getValue(t, item, PropIsHandled))
	assert.Equal(t, false, getValue(t, item, PropIsErrored))
	assert.Equal(t, "processed restock", ResponseMessage(item))

	resp, ok := getValue(t, item, PropResponse).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, StatusOK, resp["status"])

	assert.Zero(t, e.Remote().Len(), "sent records do not accumulate remotely")
	stored, err := f.endpoint.Get(ctx, "Endpoint/101")
	require.NoError(t, err)
	assert.NotNil(t, stored)

	assert.False(t, e.NeedsSync())
	assert.Empty(t, e.unsyncedItems())
}

func TestQueueCommand_SendsUndeclaredPayloadFields(t *testing.T) {
	ctx := context.Background()
	f := newQueue(t, StatusOK)

	_, err := f.engine.QueueCommand(ctx, "restock", map[string]any{"qty": 3, "sku": "A-1"})
	require.NoError(t, err)

	require.Len(t, f.received, 1)
	assert.Equal(t, "A-1", f.received[0]["sku"])
	assert.EqualValues(t, 3, f.received[0]["qty"])
	assert.NotContains(t, f.received[0], "status", "the answer is not merged into the sent record")

	stored, err := f.endpoint.Get(ctx, "Endpoint/101")
	require.NoError(t, err)
	assert.Equal(t, "A-1", stored.(map[string]any)["sku"])
}

func TestQueueCommand_ErrorStatusMarksErrored(t *testing.T) {
	f := newQueue(t, "ERROR")

	item, err := f.engine.QueueCommand(context.Background(), "restock", map[string]any{"qty": 1})
	require.NoError(t, err)

	assert.Equal(t, false, getValue(t, item, PropIsHandled))
	assert.Equal(t, true, getValue(t, item, PropIsErrored))
	assert.NotNil(t, getValue(t, item, PropResponse))
}

func TestQueueCommand_OfflineWaitsForSync(t *testing.T) {
	ctx := context.Background()
	f := newQueue(t, StatusOK, WithOnline(false))
	e := f.engine

	a, err := e.QueueCommand(ctx, "restock", map[string]any{"qty": 1})
	require.NoError(t, err)
	b, err := e.QueueCommand(ctx, "restock", map[string]any{"qty": 2})
	require.NoError(t, err)

	assert.Empty(t, f.received)
	assert.Nil(t, getValue(t, a, PropResponse))
	assert.True(t, e.NeedsSync())
	assert.Len(t, e.unsyncedItems(), 2)

	e.SetIsOnline(true)
	require.NoError(t, e.Sync(ctx))

	require.Len(t, f.received, 2)
	assert.EqualValues(t, 1, f.received[0]["qty"], "dispatched in queue order")
	assert.EqualValues(t, 2, f.received[1]["qty"])
	assert.Equal(t, true, getValue(t, a, PropIsHandled))
	assert.Equal(t, true, getValue(t, b, PropIsHandled))
	assert.Empty(t, e.unsyncedItems())
}

func TestSync_UnknownCommand(t *testing.T) {
	ctx := context.Background()
	f := newQueue(t, StatusOK, WithOnline(false))
	e := f.engine

	item, err := e.QueueCommand(ctx, "launch", nil)
	require.NoError(t, err)
	e.SetIsOnline(true)

	err = e.Sync(ctx)
	require.Error(t, err)
	assert.True(t, IsHandlerError(err))
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeUnknownCommand, se.Code)
	assert.Equal(t, "launch", se.Command)
	assert.Equal(t, item.ID(), se.EntityID)

	assert.Equal(t, err, e.LastError())
	assert.True(t, e.IsRetrying())
	assert.Empty(t, f.received)
	assert.Nil(t, getValue(t, item, PropResponse), "left in the queue")
}

func TestSync_CommandWithoutHandlers(t *testing.T) {
	ctx := context.Background()
	f := newQueue(t, StatusOK, WithOnline(false), WithCommands(NewCommand("audit")))
	e := f.engine

	_, err := e.QueueCommand(ctx, "audit", map[string]any{"qty": 0})
	require.NoError(t, err)
	e.SetIsOnline(true)

	err = e.Sync(ctx)
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeNoHandlers, se.Code)

	e.Command("audit").RegisterHandler(DefaultHandler)
	require.NoError(t, e.Sync(ctx))
	assert.Len(t, f.received, 1)
}

func TestSync_EndpointFailureIsTransient(t *testing.T) {
	ctx := context.Background()
	f := newQueue(t, StatusOK, WithOnline(false))
	e := f.engine

	flaky := testutil.NewFlakyAdapter(f.endpoint)
	flaky.FailOp("exchange")
	e.Remote().SetAdapter(flaky)

	item, err := e.QueueCommand(ctx, "restock", map[string]any{"qty": 5})
	require.NoError(t, err)
	e.SetIsOnline(true)

	require.NoError(t, e.Sync(ctx))
	assert.ErrorIs(t, e.LastError(), testutil.ErrInjected)
	assert.Nil(t, getValue(t, item, PropResponse))
	assert.Zero(t, e.Remote().Len(), "failed send is discarded")

	flaky.Heal()
	require.NoError(t, e.Sync(ctx))
	assert.NoError(t, e.LastError())
	assert.Equal(t, true, getValue(t, item, PropIsHandled))
}

func TestCommand_ProcessResponse(t *testing.T) {
	ctx := context.Background()
	ok := func(context.Context, *entity.Entity) (bool, error) { return true, nil }
	no := func(context.Context, *entity.Entity) (bool, error) { return false, nil }
	boom := errors.New("boom")
	fails := func(context.Context, *entity.Entity) (bool, error) { return true, boom }

	c := NewCommand("x", ok, ok)
	assert.True(t, c.HasHandlers())
	handled, err := c.ProcessResponse(ctx, nil)
	assert.True(t, handled)
	assert.NoError(t, err)

	c.RegisterHandler(no)
	handled, err = c.ProcessResponse(ctx, nil)
	assert.False(t, handled, "every handler must succeed")
	assert.NoError(t, err)

	c = NewCommand("y", fails)
	handled, err = c.ProcessResponse(ctx, nil)
	assert.False(t, handled)
	assert.ErrorIs(t, err, boom)

	assert.False(t, NewCommand("z").HasHandlers())
}

func TestDefaultHandler_NoResponse(t *testing.T) {
	item, err := entity.New(CommandQueueSchema("Outbox"), map[string]any{PropCommand: "restock"})
	require.NoError(t, err)
	defer item.Destroy()

	handled, err := DefaultHandler(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, true, getValue(t, item, PropIsErrored))
	assert.Equal(t, "", ResponseMessage(item))
}
