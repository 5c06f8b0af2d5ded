package models

import (
	"strconv"
	"time"
)

// Service record status constants. The record is soft-deleted: "deleted" is
// terminal and the row is never removed.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusDeleted   = "deleted"
)

// ServiceRecord is the persisted state of one provisioned order.
// ServerID and ServerIdentifier are panel-assigned and are non-nil only
// while the record is active or suspended.
type ServiceRecord struct {
	ID               int64
	ClientID         int64
	Status           string
	ServerID         *int64
	ServerIdentifier *string
	Config           map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasServer reports whether a remote server is attached to the record.
func (r *ServiceRecord) HasServer() bool {
	return r.ServerID != nil && *r.ServerID != 0
}

// Limits are the container resource limits sent to the panel.
type Limits struct {
	Memory  int64  `json:"memory"`
	Swap    int64  `json:"swap"`
	Disk    int64  `json:"disk"`
	IO      int64  `json:"io"`
	CPU     int64  `json:"cpu"`
	Threads string `json:"threads,omitempty"`
}

// FeatureLimits are the panel feature caps for a server.
type FeatureLimits struct {
	Databases   int `json:"databases"`
	Allocations int `json:"allocations"`
	Backups     int `json:"backups"`
}

// Node selection modes.
const (
	NodeSelectionClient = "client"
)

// PlacementRequest is the typed view of a service record's config used for
// one provisioning call. It is ephemeral and fully reconstructible from
// ServiceRecord.Config.
type PlacementRequest struct {
	EggID             int
	DockerImage       string
	StartupCommand    string
	ServerName        string
	ServerNamePattern string
	Description       string
	Limits            Limits
	FeatureLimits     FeatureLimits
	NodeID            int
	SelectedNodeID    int
	NodeSelectionMode string
	LocationID        int
	AutoPort          bool
	OOMDisabled       *bool
	Variables         map[string]string
	Config            map[string]interface{}
}

// PlacementFromConfig builds a PlacementRequest from the stored order
// config, applying the same defaults the panel would.
func PlacementFromConfig(cfg map[string]interface{}) PlacementRequest {
	req := PlacementRequest{
		EggID:             ConfigInt(cfg, "egg_id", 0),
		DockerImage:       ConfigString(cfg, "docker_image", ""),
		StartupCommand:    ConfigString(cfg, "startup_command", ""),
		ServerName:        ConfigString(cfg, "server_name", ""),
		ServerNamePattern: ConfigString(cfg, "server_name_pattern", ""),
		Description:       ConfigString(cfg, "server_description", ""),
		Limits: Limits{
			Memory:  int64(ConfigInt(cfg, "memory", 512)),
			Swap:    int64(ConfigInt(cfg, "swap", 0)),
			Disk:    int64(ConfigInt(cfg, "disk", 1024)),
			IO:      int64(ConfigInt(cfg, "io", 500)),
			CPU:     int64(ConfigInt(cfg, "cpu", 100)),
			Threads: ConfigString(cfg, "cpu_pinning", ""),
		},
		FeatureLimits: FeatureLimits{
			Databases:   ConfigInt(cfg, "databases", 0),
			Allocations: ConfigInt(cfg, "allocations", 0),
			Backups:     ConfigInt(cfg, "backups", 0),
		},
		NodeID:            ConfigInt(cfg, "node_id", 0),
		SelectedNodeID:    ConfigInt(cfg, "selected_node_id", 0),
		NodeSelectionMode: ConfigString(cfg, "node_selection_mode", ""),
		LocationID:        ConfigInt(cfg, "location_id", 0),
		AutoPort:          ConfigBool(cfg, "auto_port"),
		Variables:         configStringMap(cfg, "variables"),
		Config:            cfg,
	}

	if v, ok := cfg["oom_disabled"]; ok {
		b := toBool(v)
		req.OOMDisabled = &b
	}

	return req
}

// ConfigString reads a string config value, tolerating non-string scalars.
func ConfigString(cfg map[string]interface{}, key, def string) string {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def
	}
	s := ValueToString(v)
	if s == "" {
		return def
	}
	return s
}

// ConfigInt reads an integer config value. JSON decoding yields float64,
// form submissions yield strings; both are accepted.
func ConfigInt(cfg map[string]interface{}, key string, def int) int {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// ConfigBool reads a boolean config value; "1", "true" and non-zero
// numbers count as true.
func ConfigBool(cfg map[string]interface{}, key string) bool {
	v, ok := cfg[key]
	if !ok || v == nil {
		return false
	}
	return toBool(v)
}

// ValueToString renders a scalar config value as the string the panel
// expects in environment maps.
func ValueToString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "1" || b == "true" || b == "yes" || b == "on"
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}

func configStringMap(cfg map[string]interface{}, key string) map[string]string {
	raw, ok := cfg[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = ValueToString(v)
	}
	return out
}
