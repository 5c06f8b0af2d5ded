package models

// OrderActionRequest identifies the order a lifecycle action applies to.
type OrderActionRequest struct {
	OrderID int64 `json:"order_id" binding:"required"`
}

// UpdateServerRequest merges new config fields into a service and pushes
// the resulting limits to the panel.
type UpdateServerRequest struct {
	OrderID int64                  `json:"order_id" binding:"required"`
	Config  map[string]interface{} `json:"config"`
}

// SettingsRequest carries the global panel settings. Pointer fields are
// only written when present in the payload, except AllowedNodes which is
// always persisted (clearing every checkbox must stick).
type SettingsRequest struct {
	PanelURL          *string                    `json:"panel_url"`
	APIKey            *string                    `json:"api_key"`
	SSOSecret         *string                    `json:"sso_secret"`
	AllowedNodes      []int                      `json:"allowed_nodes"`
	DefaultNode       *int                       `json:"default_node"`
	NodeAllocationMap map[int]NodeAllocationRule `json:"node_allocation_map"`
}

// SettingsResponse is the sanitized view of the global panel settings.
type SettingsResponse struct {
	PanelURL     string `json:"panel_url"`
	APIKey       string `json:"api_key"`
	SSOSecret    string `json:"sso_secret"`
	AllowedNodes []int  `json:"allowed_nodes"`
	DefaultNode  int    `json:"default_node"`
}

// NodeSummary is the admin-facing node listing entry.
type NodeSummary struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	LocationID  int    `json:"location_id"`
	Public      bool   `json:"public"`
	Maintenance bool   `json:"maintenance"`
}

// LocationSummary is the admin-facing location listing entry.
type LocationSummary struct {
	ID    int    `json:"id"`
	Short string `json:"short"`
	Long  string `json:"long"`
}

// EggSummary is the admin-facing egg listing entry.
type EggSummary struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	NestName    string `json:"nest_name"`
	DockerImage string `json:"docker_image"`
	Startup     string `json:"startup"`
}

// TestConnectionResponse reports the outcome of a panel connectivity check.
type TestConnectionResponse struct {
	Success   bool                `json:"success"`
	Message   string              `json:"message"`
	Latency   string              `json:"latency,omitempty"`
	NodeCount int                 `json:"node_count"`
	Nodes     []TestedNodeSummary `json:"nodes,omitempty"`
}

// TestedNodeSummary is one node as seen during a connection test.
type TestedNodeSummary struct {
	Name        string `json:"name"`
	FQDN        string `json:"fqdn"`
	Scheme      string `json:"scheme"`
	Port        int    `json:"port"`
	Maintenance bool   `json:"maintenance"`
}

// ServiceResponse is the client-facing view of a service record. Panel
// credentials and initial passwords are stripped from the config.
type ServiceResponse struct {
	ID               int64                  `json:"id"`
	Status           string                 `json:"status"`
	ServerID         *int64                 `json:"server_id"`
	ServerIdentifier *string                `json:"server_identifier"`
	Config           map[string]interface{} `json:"config"`
	PanelURL         string                 `json:"panel_url,omitempty"`
	CreatedAt        string                 `json:"created_at"`
	UpdatedAt        string                 `json:"updated_at"`
}
