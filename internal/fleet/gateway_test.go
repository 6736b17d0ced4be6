package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopatrol/internal/logging"
)

func newTestGateway(t *testing.T) (*Gateway, *FakeClient) {
	t.Helper()
	gw := NewGateway(logging.Nop(), nil, nil)
	client := NewFakeClient()
	gw.Register("robot-1", client)
	return gw, client
}

func TestMoveShelfResolvesNamesThenCallsClient(t *testing.T) {
	gw, client := newTestGateway(t)
	ctx := context.Background()

	client.Script("list_shelves", Success(map[string]any{
		"shelves": []Shelf{{ID: "S_04", Name: "shelf-a"}},
	}))
	client.Script("list_locations", Success(map[string]any{
		"locations": []Location{{ID: "B_101-1", Name: "bed-101-1"}},
	}))
	require.NoError(t, gw.RefreshNameCaches(ctx, "robot-1"))

	client.Script("move_shelf", Success(nil))
	res, err := gw.MoveShelf(ctx, "robot-1", "shelf-a", "bed-101-1", 5*time.Second)

	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "S_04", client.MovingShelfID, "gateway should resolve names to ids before calling the client")
}

func TestUnregisteredRobotReturnsError(t *testing.T) {
	gw := NewGateway(logging.Nop(), nil, nil)
	_, err := gw.MoveToLocation(context.Background(), "ghost", "loc-1", time.Second)
	assert.Error(t, err)
}

func TestGetMovingShelfAccumulatesMetrics(t *testing.T) {
	gw, client := newTestGateway(t)
	ctx := context.Background()

	client.Script("get_moving_shelf",
		Success(map[string]any{"shelf_id": "S_04"}),
		Transport(errors.New("connection refused")),
		Success(map[string]any{}),
	)

	for i := 0; i < 3; i++ {
		_, _ = gw.GetMovingShelf(ctx, "robot-1")
	}

	metrics, err := gw.GetMetrics("robot-1")
	require.NoError(t, err)
	assert.Equal(t, 3, metrics.PollCount)
	assert.InDelta(t, 2.0/3.0, metrics.PollSuccessRate, 0.001)

	gw.ResetMetrics("robot-1")
	metrics, err = gw.GetMetrics("robot-1")
	require.NoError(t, err)
	assert.Equal(t, 0, metrics.PollCount)
}

func TestFakeClientReflectsShelfCarryState(t *testing.T) {
	client := NewFakeClient()
	ctx := context.Background()

	res, err := client.GetMovingShelf(ctx)
	require.NoError(t, err)
	assert.NotContains(t, res.Data, "shelf_id")

	_, err = client.MoveShelf(ctx, "S_04", "B_101-1", time.Second)
	require.NoError(t, err)

	res, err = client.GetMovingShelf(ctx)
	require.NoError(t, err)
	assert.Equal(t, "S_04", res.Data["shelf_id"])

	_, err = client.ReturnShelf(ctx, "S_04", time.Second)
	require.NoError(t, err)

	res, err = client.GetMovingShelf(ctx)
	require.NoError(t, err)
	assert.NotContains(t, res.Data, "shelf_id")
}
