package service

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/client"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/logger"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

// NodeSelector picks the node a server is deployed to.
type NodeSelector struct {
	api *client.PanelClient
	log logger.Logger
}

func NewNodeSelector(api *client.PanelClient, log logger.Logger) *NodeSelector {
	return &NodeSelector{api: api, log: log}
}

// Select resolves a node id, first match wins:
//  1. explicit node_id from the order config
//  2. the client-selected node when node_selection_mode is "client"
//  3. the first node in location_id passing the allow-list and a capacity test
//  4. the configured default node
//
// Whatever path supplied the node, one final capacity check runs against
// it. A check that cannot be performed (node unreachable) passes: blocking
// provisioning on a transient metadata read is worse than overallocating,
// while a confirmed deficit always fails.
func (s *NodeSelector) Select(ctx context.Context, cfg PanelConfig, req models.PlacementRequest) (int, error) {
	requiredMemory := req.Limits.Memory
	requiredDisk := req.Limits.Disk

	nodeID := 0
	switch {
	case req.NodeID != 0:
		nodeID = req.NodeID
	case req.NodeSelectionMode == models.NodeSelectionClient && req.SelectedNodeID != 0:
		nodeID = req.SelectedNodeID
	}

	if nodeID == 0 && req.LocationID != 0 {
		picked, err := s.selectInLocation(ctx, cfg, req.LocationID, requiredMemory, requiredDisk)
		if err != nil {
			return 0, err
		}
		nodeID = picked
	}

	if nodeID == 0 {
		nodeID = cfg.DefaultNode
	}

	if nodeID == 0 {
		return 0, &NoNodeSelectedError{}
	}

	if err := s.checkCapacity(ctx, nodeID, requiredMemory, requiredDisk); err != nil {
		return 0, err
	}

	return nodeID, nil
}

func (s *NodeSelector) selectInLocation(ctx context.Context, cfg PanelConfig, locationID int, requiredMemory, requiredDisk int64) (int, error) {
	nodes, err := s.api.GetNodes(ctx)
	if err != nil {
		// Without the listing there is nothing to pick from.
		return 0, &NoSuitableNodeError{LocationID: locationID}
	}

	for _, node := range nodes {
		if node.LocationID != locationID {
			continue
		}
		if !cfg.NodeAllowed(node.ID) {
			continue
		}
		if err := s.checkCapacity(ctx, node.ID, requiredMemory, requiredDisk); err != nil {
			continue
		}
		return node.ID, nil
	}

	return 0, &NoSuitableNodeError{LocationID: locationID}
}

// checkCapacity fails only on a confirmed deficit. Read failures pass.
func (s *NodeSelector) checkCapacity(ctx context.Context, nodeID int, requiredMemory, requiredDisk int64) error {
	node, err := s.api.GetNode(ctx, nodeID)
	if err != nil {
		if s.log != nil {
			s.log.Warn("node capacity unknown, proceeding",
				zap.Int("node_id", nodeID),
				zap.Error(err),
			)
		}
		return nil
	}

	if free := FreeMemory(node); free < requiredMemory {
		return &InsufficientResourcesError{
			NodeID:    nodeID,
			Kind:      ResourceMemory,
			Required:  requiredMemory,
			Available: free,
		}
	}

	if free := FreeDisk(node); free < requiredDisk {
		return &InsufficientResourcesError{
			NodeID:    nodeID,
			Kind:      ResourceDisk,
			Required:  requiredDisk,
			Available: free,
		}
	}

	return nil
}

// FreeMemory computes a node's remaining memory in MB, honoring the
// overallocation percentage. -1 means unbounded.
func FreeMemory(node *client.Node) int64 {
	return freeCapacity(node.Memory, node.AllocatedResources.Memory, node.MemoryOverallocate)
}

// FreeDisk computes a node's remaining disk in MB, honoring the
// overallocation percentage. -1 means unbounded.
func FreeDisk(node *client.Node) int64 {
	return freeCapacity(node.Disk, node.AllocatedResources.Disk, node.DiskOverallocate)
}

func freeCapacity(total, used, overallocate int64) int64 {
	if overallocate == -1 {
		return math.MaxInt64
	}
	limit := float64(total) * (1 + float64(overallocate)/100)
	return int64(limit) - used
}

// IsPlacementError reports whether err is one of the domain placement
// failures (as opposed to a transport or panel error).
func IsPlacementError(err error) bool {
	var (
		noNode       *NoNodeSelectedError
		noSuitable   *NoSuitableNodeError
		insufficient *InsufficientResourcesError
		noPort       *NoFreePortError
		noAlloc      *InsufficientAllocationsError
	)
	return errors.As(err, &noNode) ||
		errors.As(err, &noSuitable) ||
		errors.As(err, &insufficient) ||
		errors.As(err, &noPort) ||
		errors.As(err, &noAlloc)
}
