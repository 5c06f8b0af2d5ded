package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/client"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/logger"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

func testNode(id, locationID int, memory, memoryUsed int64) client.Node {
	n := client.Node{
		ID:         id,
		LocationID: locationID,
		Memory:     memory,
		Disk:       1_000_000,
	}
	n.AllocatedResources.Memory = memoryUsed
	return n
}

func placement(memory int64) models.PlacementRequest {
	return models.PlacementRequest{
		Limits: models.Limits{Memory: memory, Disk: 1024},
	}
}

func TestSelectExplicitNode(t *testing.T) {
	panel := newFakePanel(t)
	panel.nodes = []client.Node{testNode(5, 1, 8192, 0)}
	selector := NewNodeSelector(panel.client(), logger.Nop())

	req := placement(1024)
	req.NodeID = 5

	nodeID, err := selector.Select(context.Background(), PanelConfig{}, req)
	require.NoError(t, err)
	assert.Equal(t, 5, nodeID)
}

func TestSelectClientChosenNode(t *testing.T) {
	panel := newFakePanel(t)
	panel.nodes = []client.Node{testNode(7, 1, 8192, 0)}
	selector := NewNodeSelector(panel.client(), logger.Nop())

	req := placement(1024)
	req.NodeSelectionMode = models.NodeSelectionClient
	req.SelectedNodeID = 7

	nodeID, err := selector.Select(context.Background(), PanelConfig{}, req)
	require.NoError(t, err)
	assert.Equal(t, 7, nodeID)
}

func TestSelectClientChoiceIgnoredWithoutMode(t *testing.T) {
	panel := newFakePanel(t)
	panel.nodes = []client.Node{testNode(3, 1, 8192, 0), testNode(7, 1, 8192, 0)}
	selector := NewNodeSelector(panel.client(), logger.Nop())

	req := placement(1024)
	req.SelectedNodeID = 7

	cfg := PanelConfig{DefaultNode: 3}
	nodeID, err := selector.Select(context.Background(), cfg, req)
	require.NoError(t, err)
	assert.Equal(t, 3, nodeID)
}

func TestSelectInLocation(t *testing.T) {
	panel := newFakePanel(t)
	panel.nodes = []client.Node{
		testNode(1, 9, 8192, 8000), // too full
		testNode(2, 8, 8192, 0),    // wrong location
		testNode(3, 9, 8192, 0),    // first fit
		testNode(4, 9, 8192, 0),
	}
	selector := NewNodeSelector(panel.client(), logger.Nop())

	req := placement(1024)
	req.LocationID = 9

	nodeID, err := selector.Select(context.Background(), PanelConfig{}, req)
	require.NoError(t, err)
	assert.Equal(t, 3, nodeID)
}

func TestSelectInLocationHonorsAllowList(t *testing.T) {
	panel := newFakePanel(t)
	panel.nodes = []client.Node{
		testNode(3, 9, 8192, 0),
		testNode(4, 9, 8192, 0),
	}
	selector := NewNodeSelector(panel.client(), logger.Nop())

	req := placement(1024)
	req.LocationID = 9

	cfg := PanelConfig{AllowedNodes: []int{4}}
	nodeID, err := selector.Select(context.Background(), cfg, req)
	require.NoError(t, err)
	assert.Equal(t, 4, nodeID)
}

func TestSelectInLocationAllowListExcludesEveryNode(t *testing.T) {
	panel := newFakePanel(t)
	panel.nodes = []client.Node{testNode(7, 9, 8192, 0)}
	selector := NewNodeSelector(panel.client(), logger.Nop())

	req := placement(1024)
	req.LocationID = 9

	cfg := PanelConfig{AllowedNodes: []int{5}}
	_, err := selector.Select(context.Background(), cfg, req)

	var noSuitable *NoSuitableNodeError
	require.True(t, errors.As(err, &noSuitable))
	assert.Equal(t, 9, noSuitable.LocationID)
}

func TestSelectInLocationNoCandidate(t *testing.T) {
	panel := newFakePanel(t)
	panel.nodes = []client.Node{testNode(1, 9, 1024, 1000)}
	selector := NewNodeSelector(panel.client(), logger.Nop())

	req := placement(2048)
	req.LocationID = 9

	_, err := selector.Select(context.Background(), PanelConfig{}, req)

	var noSuitable *NoSuitableNodeError
	require.True(t, errors.As(err, &noSuitable))
	assert.Equal(t, 9, noSuitable.LocationID)
}

func TestSelectFallsBackToDefaultNode(t *testing.T) {
	panel := newFakePanel(t)
	panel.nodes = []client.Node{testNode(2, 1, 8192, 0)}
	selector := NewNodeSelector(panel.client(), logger.Nop())

	nodeID, err := selector.Select(context.Background(), PanelConfig{DefaultNode: 2}, placement(1024))
	require.NoError(t, err)
	assert.Equal(t, 2, nodeID)
}

func TestSelectNothingConfigured(t *testing.T) {
	panel := newFakePanel(t)
	selector := NewNodeSelector(panel.client(), logger.Nop())

	_, err := selector.Select(context.Background(), PanelConfig{}, placement(1024))

	var noNode *NoNodeSelectedError
	assert.True(t, errors.As(err, &noNode))
	assert.True(t, IsPlacementError(err))
}

func TestSelectConfirmedDeficitFails(t *testing.T) {
	panel := newFakePanel(t)
	panel.nodes = []client.Node{testNode(5, 1, 2048, 2000)}
	selector := NewNodeSelector(panel.client(), logger.Nop())

	req := placement(1024)
	req.NodeID = 5

	_, err := selector.Select(context.Background(), PanelConfig{}, req)

	var insufficient *InsufficientResourcesError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, ResourceMemory, insufficient.Kind)
	assert.Equal(t, int64(1024), insufficient.Required)
}

func TestSelectUnreadableNodePasses(t *testing.T) {
	panel := newFakePanel(t)
	panel.nodeFailures[5] = true
	selector := NewNodeSelector(panel.client(), logger.Nop())

	req := placement(1024)
	req.NodeID = 5

	nodeID, err := selector.Select(context.Background(), PanelConfig{}, req)
	require.NoError(t, err)
	assert.Equal(t, 5, nodeID)
}

func TestFreeCapacity(t *testing.T) {
	tests := []struct {
		name         string
		total        int64
		used         int64
		overallocate int64
		want         int64
	}{
		{"no overallocation", 8192, 1024, 0, 7168},
		{"fifty percent", 8192, 1024, 50, 11264},
		{"unbounded", 100, 100_000, -1, math.MaxInt64},
		{"overcommitted", 1024, 2048, 0, -1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &client.Node{Memory: tt.total, MemoryOverallocate: tt.overallocate}
			node.AllocatedResources.Memory = tt.used
			assert.Equal(t, tt.want, FreeMemory(node))
		})
	}
}
