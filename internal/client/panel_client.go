package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/logger"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

// acceptHeader is the panel's versioned JSON media type.
const acceptHeader = "Application/vnd.pterodactyl.v1+json"

// PanelClient calls the Pterodactyl application API. It performs no
// retries; every call is bounded by a 30 second timeout.
type PanelClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        logger.Logger
}

// New creates a panel client for the given panel URL and application API
// key. The logger may be nil.
func New(panelURL, apiKey string, log logger.Logger) *PanelClient {
	return &PanelClient{
		baseURL: strings.TrimRight(panelURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// Request performs one API call. body (optional) is JSON-encoded; the
// response is decoded into out when non-nil. Transport failures surface as
// *ConnectionError, HTTP >= 400 as *RemoteError with the panel's error
// details when the body was parseable.
func (c *PanelClient) Request(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectionError{Err: err}
	}

	if resp.StatusCode >= 400 {
		remote := &RemoteError{Status: resp.StatusCode}
		var payload struct {
			Errors []ErrorDetail `json:"errors"`
		}
		if json.Unmarshal(data, &payload) == nil {
			remote.Details = payload.Errors
		}
		// Best effort; the log call must never replace the error itself.
		if c.log != nil {
			c.log.Error("panel request failed",
				zap.String("method", method),
				zap.String("endpoint", endpoint),
				zap.Int("status", resp.StatusCode),
				zap.String("details", remote.Error()),
			)
		}
		return remote
	}

	if out != nil && len(data) > 0 {
		// Action endpoints answer 204 or non-JSON bodies; treat those as
		// empty rather than failing.
		if err := json.Unmarshal(data, out); err != nil {
			return nil
		}
	}

	return nil
}

// Node is a panel node with its capacity figures. An overallocate value of
// -1 means unbounded.
type Node struct {
	ID                 int    `json:"id"`
	Name               string `json:"name"`
	LocationID         int    `json:"location_id"`
	FQDN               string `json:"fqdn"`
	Scheme             string `json:"scheme"`
	DaemonListen       int    `json:"daemon_listen"`
	Public             bool   `json:"public"`
	Maintenance        bool   `json:"maintenance_mode"`
	Memory             int64  `json:"memory"`
	MemoryOverallocate int64  `json:"memory_overallocate"`
	Disk               int64  `json:"disk"`
	DiskOverallocate   int64  `json:"disk_overallocate"`
	AllocatedResources struct {
		Memory int64 `json:"memory"`
		Disk   int64 `json:"disk"`
	} `json:"allocated_resources"`
}

// Location is a panel location.
type Location struct {
	ID    int    `json:"id"`
	Short string `json:"short"`
	Long  string `json:"long"`
}

// Allocation is a reserved IP:port pair on a node.
type Allocation struct {
	ID       int    `json:"id"`
	IP       string `json:"ip"`
	Alias    string `json:"alias"`
	Port     int    `json:"port"`
	Assigned bool   `json:"assigned"`
}

// EggVariable is one declared environment variable of an egg.
type EggVariable struct {
	Name         string `json:"name"`
	EnvVariable  string `json:"env_variable"`
	DefaultValue string `json:"default_value"`
}

// Egg describes a deployable application: image, startup command and its
// variable schema (when fetched with include=variables).
type Egg struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	DockerImage   string `json:"docker_image"`
	Startup       string `json:"startup"`
	Relationships struct {
		Variables struct {
			Data []eggVariableItem `json:"data"`
		} `json:"variables"`
	} `json:"relationships"`
}

// Variables returns the egg's variable schema in declaration order.
func (e *Egg) Variables() []EggVariable {
	vars := make([]EggVariable, 0, len(e.Relationships.Variables.Data))
	for _, item := range e.Relationships.Variables.Data {
		vars = append(vars, item.Attributes)
	}
	return vars
}

// Nest groups eggs (when fetched with include=eggs).
type Nest struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Relationships struct {
		Eggs struct {
			Data []eggItem `json:"data"`
		} `json:"eggs"`
	} `json:"relationships"`
}

// Eggs returns the nest's eggs.
func (n *Nest) Eggs() []Egg {
	eggs := make([]Egg, 0, len(n.Relationships.Eggs.Data))
	for _, item := range n.Relationships.Eggs.Data {
		eggs = append(eggs, item.Attributes)
	}
	return eggs
}

// User is a panel user account.
type User struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Server is a panel server resource.
type Server struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	User       int    `json:"user"`
	Egg        int    `json:"egg"`
	Node       int    `json:"node"`
	Allocation int    `json:"allocation"`
	Suspended  bool   `json:"suspended"`
	Container  struct {
		StartupCommand string            `json:"startup_command"`
		Image          string            `json:"image"`
		Environment    map[string]string `json:"environment"`
	} `json:"container"`
}

// ServerVariable is a startup variable of an existing server.
type ServerVariable struct {
	EnvVariable string `json:"env_variable"`
	ServerValue string `json:"server_value"`
}

// Single-resource and collection wrappers of the panel wire format.
type nodeItem struct {
	Attributes Node `json:"attributes"`
}

type locationItem struct {
	Attributes Location `json:"attributes"`
}

type allocationItem struct {
	Attributes Allocation `json:"attributes"`
}

type eggItem struct {
	Attributes Egg `json:"attributes"`
}

type eggVariableItem struct {
	Attributes EggVariable `json:"attributes"`
}

type nestItem struct {
	Attributes Nest `json:"attributes"`
}

type userItem struct {
	Attributes User `json:"attributes"`
}

type serverItem struct {
	Attributes Server `json:"attributes"`
}

type serverVariableItem struct {
	Attributes ServerVariable `json:"attributes"`
}

// GetNodes lists all nodes.
func (c *PanelClient) GetNodes(ctx context.Context) ([]Node, error) {
	var resp struct {
		Data []nodeItem `json:"data"`
	}
	if err := c.Request(ctx, http.MethodGet, "/api/application/nodes", nil, &resp); err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(resp.Data))
	for _, item := range resp.Data {
		nodes = append(nodes, item.Attributes)
	}
	return nodes, nil
}

// GetNode fetches one node with its capacity figures.
func (c *PanelClient) GetNode(ctx context.Context, id int) (*Node, error) {
	var resp nodeItem
	if err := c.Request(ctx, http.MethodGet, fmt.Sprintf("/api/application/nodes/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Attributes, nil
}

// GetLocations lists all locations.
func (c *PanelClient) GetLocations(ctx context.Context) ([]Location, error) {
	var resp struct {
		Data []locationItem `json:"data"`
	}
	if err := c.Request(ctx, http.MethodGet, "/api/application/locations", nil, &resp); err != nil {
		return nil, err
	}
	locations := make([]Location, 0, len(resp.Data))
	for _, item := range resp.Data {
		locations = append(locations, item.Attributes)
	}
	return locations, nil
}

// GetNests lists all nests with their eggs included.
func (c *PanelClient) GetNests(ctx context.Context) ([]Nest, error) {
	var resp struct {
		Data []nestItem `json:"data"`
	}
	if err := c.Request(ctx, http.MethodGet, "/api/application/nests?include=eggs", nil, &resp); err != nil {
		return nil, err
	}
	nests := make([]Nest, 0, len(resp.Data))
	for _, item := range resp.Data {
		nests = append(nests, item.Attributes)
	}
	return nests, nil
}

// GetEgg fetches one egg with its variable schema.
func (c *PanelClient) GetEgg(ctx context.Context, nestID, eggID int) (*Egg, error) {
	endpoint := fmt.Sprintf("/api/application/nests/%d/eggs/%d?include=variables", nestID, eggID)
	var resp eggItem
	if err := c.Request(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Attributes, nil
}

// CreateServerRequest is the payload for server creation.
type CreateServerRequest struct {
	Name          string               `json:"name"`
	User          int                  `json:"user"`
	Egg           int                  `json:"egg"`
	DockerImage   string               `json:"docker_image"`
	Startup       string               `json:"startup"`
	Description   string               `json:"description,omitempty"`
	OOMDisabled   *bool                `json:"oom_disabled,omitempty"`
	Environment   map[string]string    `json:"environment"`
	Limits        models.Limits        `json:"limits"`
	FeatureLimits models.FeatureLimits `json:"feature_limits"`
	Allocation    AllocationPayload    `json:"allocation"`
}

// AllocationPayload selects the allocations attached at creation.
type AllocationPayload struct {
	Default    int   `json:"default"`
	Additional []int `json:"additional,omitempty"`
}

// CreateServer creates a server and returns the panel's resource.
func (c *PanelClient) CreateServer(ctx context.Context, req *CreateServerRequest) (*Server, error) {
	var resp serverItem
	if err := c.Request(ctx, http.MethodPost, "/api/application/servers", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Attributes, nil
}

// UpdateBuildRequest is the payload for a build/limits update.
type UpdateBuildRequest struct {
	Allocation    int                  `json:"allocation"`
	Memory        int64                `json:"memory"`
	Swap          int64                `json:"swap"`
	Disk          int64                `json:"disk"`
	IO            int64                `json:"io"`
	CPU           int64                `json:"cpu"`
	FeatureLimits models.FeatureLimits `json:"feature_limits"`
}

// UpdateServerBuild pushes new resource limits to an existing server.
func (c *PanelClient) UpdateServerBuild(ctx context.Context, serverID int64, req *UpdateBuildRequest) error {
	endpoint := fmt.Sprintf("/api/application/servers/%d/build", serverID)
	return c.Request(ctx, http.MethodPost, endpoint, req, nil)
}

// UpdateStartupRequest is the payload for a startup/environment update.
type UpdateStartupRequest struct {
	Startup     string            `json:"startup"`
	Environment map[string]string `json:"environment"`
	Egg         int               `json:"egg"`
	Image       string            `json:"image"`
	SkipScripts bool              `json:"skip_scripts"`
}

// UpdateServerStartup pushes new startup variables to an existing server.
func (c *PanelClient) UpdateServerStartup(ctx context.Context, serverID int64, req *UpdateStartupRequest) error {
	endpoint := fmt.Sprintf("/api/application/servers/%d/startup", serverID)
	return c.Request(ctx, http.MethodPut, endpoint, req, nil)
}

// SuspendServer suspends a server.
func (c *PanelClient) SuspendServer(ctx context.Context, serverID int64) error {
	return c.Request(ctx, http.MethodPost, fmt.Sprintf("/api/application/servers/%d/suspend", serverID), nil, nil)
}

// UnsuspendServer resumes a suspended server.
func (c *PanelClient) UnsuspendServer(ctx context.Context, serverID int64) error {
	return c.Request(ctx, http.MethodPost, fmt.Sprintf("/api/application/servers/%d/unsuspend", serverID), nil, nil)
}

// DeleteServer deletes a server.
func (c *PanelClient) DeleteServer(ctx context.Context, serverID int64) error {
	return c.Request(ctx, http.MethodDelete, fmt.Sprintf("/api/application/servers/%d", serverID), nil, nil)
}

// GetServerDetails fetches a server by its application API id.
func (c *PanelClient) GetServerDetails(ctx context.Context, serverID int64) (*Server, error) {
	var resp serverItem
	if err := c.Request(ctx, http.MethodGet, fmt.Sprintf("/api/application/servers/%d", serverID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Attributes, nil
}

// GetServerStartup fetches a server's startup variables.
func (c *PanelClient) GetServerStartup(ctx context.Context, serverID int64) ([]ServerVariable, error) {
	var resp struct {
		Data []serverVariableItem `json:"data"`
	}
	if err := c.Request(ctx, http.MethodGet, fmt.Sprintf("/api/application/servers/%d/startup", serverID), nil, &resp); err != nil {
		return nil, err
	}
	vars := make([]ServerVariable, 0, len(resp.Data))
	for _, item := range resp.Data {
		vars = append(vars, item.Attributes)
	}
	return vars, nil
}

// GetUsers lists panel users, optionally filtered by exact email.
func (c *PanelClient) GetUsers(ctx context.Context, filterEmail string) ([]User, error) {
	endpoint := "/api/application/users"
	if filterEmail != "" {
		endpoint += "?filter[email]=" + url.QueryEscape(filterEmail)
	}
	var resp struct {
		Data []userItem `json:"data"`
	}
	if err := c.Request(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(resp.Data))
	for _, item := range resp.Data {
		users = append(users, item.Attributes)
	}
	return users, nil
}

// CreateUserRequest is the payload for user creation.
type CreateUserRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

// CreateUser creates a panel user.
func (c *PanelClient) CreateUser(ctx context.Context, req *CreateUserRequest) (*User, error) {
	var resp userItem
	if err := c.Request(ctx, http.MethodPost, "/api/application/users", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Attributes, nil
}

// UpdateUserRequest is the payload for a user update.
type UpdateUserRequest struct {
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Password  string `json:"password,omitempty"`
}

// UpdateUser patches a panel user.
func (c *PanelClient) UpdateUser(ctx context.Context, userID int, req *UpdateUserRequest) (*User, error) {
	var resp userItem
	if err := c.Request(ctx, http.MethodPatch, fmt.Sprintf("/api/application/users/%d", userID), req, &resp); err != nil {
		return nil, err
	}
	return &resp.Attributes, nil
}

// GetAllocations lists a node's allocations. Only the first page is
// fetched; nodes with more than one page of allocations are rare.
func (c *PanelClient) GetAllocations(ctx context.Context, nodeID int) ([]Allocation, error) {
	var resp struct {
		Data []allocationItem `json:"data"`
	}
	if err := c.Request(ctx, http.MethodGet, fmt.Sprintf("/api/application/nodes/%d/allocations", nodeID), nil, &resp); err != nil {
		return nil, err
	}
	allocations := make([]Allocation, 0, len(resp.Data))
	for _, item := range resp.Data {
		allocations = append(allocations, item.Attributes)
	}
	return allocations, nil
}

// CreateAllocation creates allocations for the given ports on one IP.
// Some panel versions answer with the created allocations, others with an
// empty body; callers must tolerate an empty result.
func (c *PanelClient) CreateAllocation(ctx context.Context, nodeID int, ip string, ports []string) ([]Allocation, error) {
	payload := map[string]interface{}{
		"ip":    ip,
		"ports": ports,
	}
	var resp struct {
		Data []allocationItem `json:"data"`
	}
	if err := c.Request(ctx, http.MethodPost, fmt.Sprintf("/api/application/nodes/%d/allocations", nodeID), payload, &resp); err != nil {
		return nil, err
	}
	allocations := make([]Allocation, 0, len(resp.Data))
	for _, item := range resp.Data {
		allocations = append(allocations, item.Attributes)
	}
	return allocations, nil
}

// GetSSORedirect asks the panel's WemX SSO plugin for a pre-authenticated
// redirect URL for the given panel user.
func (c *PanelClient) GetSSORedirect(ctx context.Context, userID int, ssoSecret string) (string, error) {
	endpoint := fmt.Sprintf("/sso-wemx/?sso_secret=%s&user_id=%d", url.QueryEscape(ssoSecret), userID)
	var resp struct {
		Redirect string `json:"redirect"`
		Message  string `json:"message"`
	}
	if err := c.Request(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", err
	}
	if resp.Redirect == "" {
		if resp.Message != "" {
			return "", fmt.Errorf("sso redirect unavailable: %s", resp.Message)
		}
		return "", fmt.Errorf("sso redirect unavailable")
	}
	return resp.Redirect, nil
}
