package service

import (
	"fmt"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

// PanelConfig is the effective panel configuration for one operation. It
// is resolved once per top-level call and passed down explicitly; nothing
// caches it between operations.
type PanelConfig struct {
	PanelURL      string
	APIKey        string
	SSOSecret     string
	AllowedNodes  []int
	DefaultNode   int
	AllocationMap map[int]models.NodeAllocationRule
}

// ResolvePanelConfig merges the global panel settings with an order's
// config. An order carrying both panel_url and api_key brings its own
// panel; its credentials then take precedence over the global ones.
func ResolvePanelConfig(settings *models.PanelSettings, orderConfig map[string]interface{}) PanelConfig {
	cfg := PanelConfig{
		PanelURL:      settings.PanelURL,
		APIKey:        settings.APIKey,
		SSOSecret:     settings.SSOSecret,
		AllowedNodes:  settings.AllowedNodes,
		DefaultNode:   settings.DefaultNode,
		AllocationMap: settings.AllocationMap,
	}

	orderURL := models.ConfigString(orderConfig, "panel_url", "")
	orderKey := models.ConfigString(orderConfig, "api_key", "")
	if orderURL != "" && orderKey != "" {
		cfg.PanelURL = orderURL
		cfg.APIKey = orderKey
	}
	if secret := models.ConfigString(orderConfig, "sso_secret", ""); secret != "" {
		cfg.SSOSecret = secret
	}

	return cfg
}

// Validate reports whether the config can reach a panel at all.
func (c *PanelConfig) Validate() error {
	if c.PanelURL == "" || c.APIKey == "" {
		return fmt.Errorf("pterodactyl settings are not configured: panel URL and API key are required")
	}
	return nil
}

// NodeAllowed reports whether a node passes the allow-list. An empty list
// allows every node.
func (c *PanelConfig) NodeAllowed(nodeID int) bool {
	if len(c.AllowedNodes) == 0 {
		return true
	}
	for _, id := range c.AllowedNodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// AllocationRule returns the allocation constraints for a node, or nil.
func (c *PanelConfig) AllocationRule(nodeID int) *models.NodeAllocationRule {
	if c.AllocationMap == nil {
		return nil
	}
	if rule, ok := c.AllocationMap[nodeID]; ok {
		return &rule
	}
	return nil
}
