package models

// Setting parameter keys, mirroring the billing platform's settings table.
const (
	ParamPanelURL          = "servicepterodactyl_panel_url"
	ParamAPIKey            = "servicepterodactyl_api_key"
	ParamSSOSecret         = "servicepterodactyl_sso_secret"
	ParamAllowedNodes      = "servicepterodactyl_allowed_nodes"
	ParamDefaultNode       = "servicepterodactyl_default_node"
	ParamNodeAllocationMap = "servicepterodactyl_node_allocation_map"
)

// NodeAllocationRule constrains allocation creation on one node: which host
// IP new allocations are created on and the port range to scan.
type NodeAllocationRule struct {
	Host      string `json:"host"`
	PortStart int    `json:"port_start"`
	PortEnd   int    `json:"port_end"`
}

// PanelSettings are the globally stored panel credentials and placement
// policy. AllowedNodes acts as an allow-list when non-empty.
type PanelSettings struct {
	PanelURL      string
	APIKey        string
	SSOSecret     string
	AllowedNodes  []int
	DefaultNode   int
	AllocationMap map[int]NodeAllocationRule
}
