package service

import "fmt"

// NoNodeSelectedError means no placement path (explicit node, location or
// default node) produced a node id.
type NoNodeSelectedError struct{}

func (e *NoNodeSelectedError) Error() string {
	return "no node selected for deployment: configure a node, a location or a default node"
}

// NoSuitableNodeError means every node in the requested location was
// filtered out or lacked capacity.
type NoSuitableNodeError struct {
	LocationID int
}

func (e *NoSuitableNodeError) Error() string {
	return fmt.Sprintf("no suitable node with sufficient resources found in location %d", e.LocationID)
}

// Resource kinds for InsufficientResourcesError.
const (
	ResourceMemory = "memory"
	ResourceDisk   = "disk"
)

// InsufficientResourcesError is a confirmed capacity deficit on a chosen
// node. It is only raised when the node's figures could actually be read.
type InsufficientResourcesError struct {
	NodeID    int
	Kind      string
	Required  int64
	Available int64
}

func (e *InsufficientResourcesError) Error() string {
	return fmt.Sprintf("node %d does not have enough %s available (required: %dMB, available: %dMB)",
		e.NodeID, e.Kind, e.Required, e.Available)
}

// NoFreePortError means the port scan exhausted its range without finding
// an unused port.
type NoFreePortError struct {
	NodeID    int
	StartPort int
	EndPort   int
}

func (e *NoFreePortError) Error() string {
	return fmt.Sprintf("no free port found on node %d in range %d-%d", e.NodeID, e.StartPort, e.EndPort)
}

// InsufficientAllocationsError means the node's pool of unassigned
// allocations is smaller than requested.
type InsufficientAllocationsError struct {
	NodeID    int
	Requested int
	Available int
}

func (e *InsufficientAllocationsError) Error() string {
	return fmt.Sprintf("node %d has %d unassigned allocations, %d requested",
		e.NodeID, e.Available, e.Requested)
}

// ProvisionFailedError wraps any failure raised during the provision path.
// A failed provision never leaves a server id on the record.
type ProvisionFailedError struct {
	Err error
}

func (e *ProvisionFailedError) Error() string {
	return fmt.Sprintf("failed to provision server: %v", e.Err)
}

func (e *ProvisionFailedError) Unwrap() error { return e.Err }
