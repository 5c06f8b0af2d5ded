package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/client"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

// DefaultStartPort is where the port scan begins when the node has no
// configured allocation range.
const DefaultStartPort = 25565

// maxPortAttempts bounds the scan when no explicit port_end is set.
const maxPortAttempts = 1000

// AllocationResolver finds or creates network allocations on a node.
//
// Reusing an unassigned allocation is not atomic: two concurrent provisions
// can observe the same free allocation before either claims it. Callers
// must serialize provisioning per order externally.
type AllocationResolver struct {
	api *client.PanelClient
}

func NewAllocationResolver(api *client.PanelClient) *AllocationResolver {
	return &AllocationResolver{api: api}
}

// FindFree returns an allocation usable as a server's default: the first
// unassigned one on the node, or a freshly created allocation on a free
// port when none exists. rule (optional) constrains the target IP and the
// port range.
func (r *AllocationResolver) FindFree(ctx context.Context, nodeID int, rule *models.NodeAllocationRule) (*client.Allocation, error) {
	allocations, err := r.api.GetAllocations(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	for _, allocation := range allocations {
		if !allocation.Assigned {
			a := allocation
			return &a, nil
		}
	}

	port, err := r.freePort(nodeID, allocations, rule)
	if err != nil {
		return nil, err
	}

	ip := r.targetIP(ctx, nodeID, allocations, rule)

	created, err := r.api.CreateAllocation(ctx, nodeID, ip, []string{strconv.Itoa(port)})
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		return &created[0], nil
	}

	// Some panel versions answer creation with an empty body; re-fetch and
	// locate the new allocation.
	allocations, err = r.api.GetAllocations(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	for _, allocation := range allocations {
		if allocation.IP == ip && allocation.Port == port {
			a := allocation
			return &a, nil
		}
	}

	return nil, fmt.Errorf("failed to create new allocation on node %d", nodeID)
}

// FindFreeMany returns exactly count existing unassigned allocations.
// Allocations on preferredIP come first, sorted by port; the remainder is
// sorted by (ip, port). This variant never creates allocations.
func (r *AllocationResolver) FindFreeMany(ctx context.Context, nodeID, count int, preferredIP string) ([]client.Allocation, error) {
	allocations, err := r.api.GetAllocations(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	var preferred, rest []client.Allocation
	for _, allocation := range allocations {
		if allocation.Assigned {
			continue
		}
		if preferredIP != "" && allocation.IP == preferredIP {
			preferred = append(preferred, allocation)
		} else {
			rest = append(rest, allocation)
		}
	}

	sort.Slice(preferred, func(i, j int) bool {
		return preferred[i].Port < preferred[j].Port
	})
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].IP != rest[j].IP {
			return rest[i].IP < rest[j].IP
		}
		return rest[i].Port < rest[j].Port
	})

	pool := append(preferred, rest...)
	if len(pool) < count {
		return nil, &InsufficientAllocationsError{
			NodeID:    nodeID,
			Requested: count,
			Available: len(pool),
		}
	}

	return pool[:count], nil
}

// freePort scans for a port absent from the node's used-port set.
func (r *AllocationResolver) freePort(nodeID int, allocations []client.Allocation, rule *models.NodeAllocationRule) (int, error) {
	used := make(map[int]bool, len(allocations))
	for _, allocation := range allocations {
		used[allocation.Port] = true
	}

	start := DefaultStartPort
	if rule != nil && rule.PortStart > 0 {
		start = rule.PortStart
	}
	end := start + maxPortAttempts - 1
	if rule != nil && rule.PortEnd > 0 {
		end = rule.PortEnd
	}

	for port := start; port <= end; port++ {
		if !used[port] {
			return port, nil
		}
	}

	return 0, &NoFreePortError{NodeID: nodeID, StartPort: start, EndPort: end}
}

// targetIP picks the IP a new allocation is created on: the configured
// host, else the most frequent IP among existing allocations, else the
// node's own address. The wildcard is a last resort when even the node
// cannot be read.
func (r *AllocationResolver) targetIP(ctx context.Context, nodeID int, allocations []client.Allocation, rule *models.NodeAllocationRule) string {
	if rule != nil && rule.Host != "" {
		return rule.Host
	}

	if len(allocations) > 0 {
		counts := make(map[string]int, len(allocations))
		best := ""
		for _, allocation := range allocations {
			counts[allocation.IP]++
			if best == "" || counts[allocation.IP] > counts[best] {
				best = allocation.IP
			}
		}
		return best
	}

	if node, err := r.api.GetNode(ctx, nodeID); err == nil && node.FQDN != "" {
		return node.FQDN
	}

	return "0.0.0.0"
}
