package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/client"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/logger"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

// ServiceStore persists service records.
type ServiceStore interface {
	Create(ctx context.Context, rec *models.ServiceRecord) error
	GetByID(ctx context.Context, id int64) (*models.ServiceRecord, error)
	Update(ctx context.Context, rec *models.ServiceRecord) error
}

// OrderStore reads the billing system's orders, clients and products.
type OrderStore interface {
	GetExistingOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetClientByID(ctx context.Context, id int64) (*models.Client, error)
	GetProductConfig(ctx context.Context, productID int64) (map[string]interface{}, error)
	SetOrderServiceID(ctx context.Context, orderID, serviceID int64) error
}

// SettingsStore reads and writes the module's global parameters.
type SettingsStore interface {
	GetPanelSettings(ctx context.Context) (*models.PanelSettings, error)
	SavePanelSettings(ctx context.Context, req *models.SettingsRequest) error
}

// ActionLog records and reads provisioning actions. Writes are best
// effort.
type ActionLog interface {
	LogAction(ctx context.Context, serviceID int64, action, status, message string) error
	GetByServiceID(ctx context.Context, serviceID int64, limit int) ([]*models.ProvisionLog, error)
}

// ProvisionService drives the service record lifecycle
// (pending -> active <-> suspended -> deleted) against the remote panel.
//
// Operations are synchronous and perform no retries. Concurrent calls for
// different records are independent; callers must serialize calls for the
// same order id themselves.
type ProvisionService struct {
	services ServiceStore
	orders   OrderStore
	settings SettingsStore
	logs     ActionLog
	log      logger.Logger
}

func NewProvisionService(
	services ServiceStore,
	orders OrderStore,
	settings SettingsStore,
	logs ActionLog,
	log logger.Logger,
) *ProvisionService {
	return &ProvisionService{
		services: services,
		orders:   orders,
		settings: settings,
		logs:     logs,
		log:      log,
	}
}

// CreateService creates the local record for a freshly placed order, in
// status pending, with the product's config defaults overlaid by the
// order's own config. No remote call is made.
func (s *ProvisionService) CreateService(ctx context.Context, orderID int64) (*models.ServiceRecord, error) {
	order, err := s.orders.GetExistingOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}

	if order.ServiceID != nil {
		if existing, err := s.services.GetByID(ctx, *order.ServiceID); err == nil {
			return existing, nil
		}
	}

	config := map[string]interface{}{}
	if order.ProductID != 0 {
		productConfig, err := s.orders.GetProductConfig(ctx, order.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load product config: %w", err)
		}
		for key, value := range productConfig {
			config[key] = value
		}
	}
	for key, value := range order.Config {
		config[key] = value
	}

	record := &models.ServiceRecord{
		ClientID: order.ClientID,
		Status:   models.StatusPending,
		Config:   config,
	}
	if err := s.services.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create service record: %w", err)
	}

	if order.ServiceID == nil {
		if err := s.orders.SetOrderServiceID(ctx, order.ID, record.ID); err != nil {
			return nil, fmt.Errorf("link service to order: %w", err)
		}
	}

	s.logAction(ctx, record.ID, "created", record.Status, "Service record created")
	return record, nil
}

// Provision realizes the order on the panel: user, node, allocation,
// environment, server. On success the record turns active and stores the
// panel's server id and identifier. Any failure aborts the whole operation
// without touching the record, wrapped as *ProvisionFailedError.
func (s *ProvisionService) Provision(ctx context.Context, orderID int64) error {
	order, record, err := s.loadOrderService(ctx, orderID)
	if err != nil {
		return err
	}

	cfg, err := s.resolveConfig(ctx, order.Config)
	if err != nil {
		return &ProvisionFailedError{Err: err}
	}

	api, err := s.api(cfg)
	if err != nil {
		return &ProvisionFailedError{Err: err}
	}

	billingClient, err := s.orders.GetClientByID(ctx, record.ClientID)
	if err != nil {
		return &ProvisionFailedError{Err: fmt.Errorf("client not found: %w", err)}
	}

	server, err := s.createPanelServer(ctx, api, cfg, order, record, billingClient)
	if err != nil {
		s.logAction(ctx, record.ID, "provision_failed", record.Status, err.Error())
		return &ProvisionFailedError{Err: err}
	}

	record.ServerID = &server.ID
	identifier := server.Identifier
	record.ServerIdentifier = &identifier
	record.Status = models.StatusActive
	if err := s.services.Update(ctx, record); err != nil {
		return fmt.Errorf("store provisioned record: %w", err)
	}

	s.logAction(ctx, record.ID, "provisioned", record.Status,
		fmt.Sprintf("Server %d (%s) created on panel", server.ID, server.Identifier))
	s.log.Info("server provisioned",
		zap.Int64("order_id", orderID),
		zap.Int64("service_id", record.ID),
		zap.Int64("server_id", server.ID),
	)
	return nil
}

// Suspend pauses the remote server and marks the record suspended.
// Suspending a record without a server only updates the local status.
func (s *ProvisionService) Suspend(ctx context.Context, orderID int64) error {
	return s.toggleSuspension(ctx, orderID, true)
}

// Unsuspend resumes the remote server and marks the record active.
func (s *ProvisionService) Unsuspend(ctx context.Context, orderID int64) error {
	return s.toggleSuspension(ctx, orderID, false)
}

func (s *ProvisionService) toggleSuspension(ctx context.Context, orderID int64, suspend bool) error {
	order, record, err := s.loadOrderService(ctx, orderID)
	if err != nil {
		return err
	}

	if record.HasServer() {
		cfg, err := s.resolveConfig(ctx, order.Config)
		if err != nil {
			return err
		}
		api, err := s.api(cfg)
		if err != nil {
			return err
		}
		if suspend {
			err = api.SuspendServer(ctx, *record.ServerID)
		} else {
			err = api.UnsuspendServer(ctx, *record.ServerID)
		}
		if err != nil {
			return fmt.Errorf("toggle suspension: %w", err)
		}
	}

	action := "unsuspended"
	record.Status = models.StatusActive
	if suspend {
		action = "suspended"
		record.Status = models.StatusSuspended
	}
	if err := s.services.Update(ctx, record); err != nil {
		return fmt.Errorf("store record: %w", err)
	}

	s.logAction(ctx, record.ID, action, record.Status, "")
	return nil
}

// Unprovision deletes the remote server (tolerating an already-deleted
// one) and marks the record deleted with its panel ids cleared. Calling it
// again on a deleted record is a no-op that keeps the deleted status.
func (s *ProvisionService) Unprovision(ctx context.Context, orderID int64) error {
	order, record, err := s.loadOrderService(ctx, orderID)
	if err != nil {
		return err
	}

	if record.HasServer() {
		cfg, err := s.resolveConfig(ctx, order.Config)
		if err != nil {
			return err
		}
		api, err := s.api(cfg)
		if err != nil {
			return err
		}
		if err := api.DeleteServer(ctx, *record.ServerID); err != nil {
			var remote *client.RemoteError
			if !errors.As(err, &remote) || !remote.IsNotFound() {
				return fmt.Errorf("delete server: %w", err)
			}
			// Already gone on the panel; clearing the record is still right.
		}
	}

	record.ServerID = nil
	record.ServerIdentifier = nil
	record.Status = models.StatusDeleted
	if err := s.services.Update(ctx, record); err != nil {
		return fmt.Errorf("store record: %w", err)
	}

	s.logAction(ctx, record.ID, "unprovisioned", record.Status, "")
	return nil
}

// Cancel terminates the server to free panel resources.
func (s *ProvisionService) Cancel(ctx context.Context, orderID int64) error {
	return s.Unprovision(ctx, orderID)
}

// Uncancel restores a canceled order: re-provision when the server was
// deleted, otherwise just unsuspend it.
func (s *ProvisionService) Uncancel(ctx context.Context, orderID int64) error {
	_, record, err := s.loadOrderService(ctx, orderID)
	if err != nil {
		return err
	}
	if !record.HasServer() {
		return s.Provision(ctx, orderID)
	}
	return s.Unsuspend(ctx, orderID)
}

// Renew has no panel-side effect.
func (s *ProvisionService) Renew(ctx context.Context, orderID int64) error {
	return nil
}

// UpdateServer merges a config patch into the record and, when a server
// exists, pushes the resulting build limits to the panel using the
// server's current allocation.
func (s *ProvisionService) UpdateServer(ctx context.Context, orderID int64, patch map[string]interface{}) error {
	_, record, err := s.loadOrderService(ctx, orderID)
	if err != nil {
		return err
	}

	if len(patch) > 0 {
		if record.Config == nil {
			record.Config = map[string]interface{}{}
		}
		for key, value := range patch {
			record.Config[key] = value
		}
		if err := s.services.Update(ctx, record); err != nil {
			return fmt.Errorf("store record: %w", err)
		}
	}

	if !record.HasServer() {
		return nil
	}

	cfg, err := s.resolveConfig(ctx, record.Config)
	if err != nil {
		return err
	}
	api, err := s.api(cfg)
	if err != nil {
		return err
	}

	server, err := api.GetServerDetails(ctx, *record.ServerID)
	if err != nil {
		return fmt.Errorf("read server allocation: %w", err)
	}

	req := models.PlacementFromConfig(record.Config)
	build := &client.UpdateBuildRequest{
		Allocation:    server.Allocation,
		Memory:        req.Limits.Memory,
		Swap:          req.Limits.Swap,
		Disk:          req.Limits.Disk,
		IO:            req.Limits.IO,
		CPU:           req.Limits.CPU,
		FeatureLimits: req.FeatureLimits,
	}
	if err := api.UpdateServerBuild(ctx, *record.ServerID, build); err != nil {
		return fmt.Errorf("update server build: %w", err)
	}

	s.logAction(ctx, record.ID, "updated", record.Status, "Server build limits updated")
	return nil
}

// SyncStatus reconciles the record status with the order status, for
// orders edited directly in the billing system. It only mirrors the
// status field; no provisioning side effects are triggered.
func (s *ProvisionService) SyncStatus(ctx context.Context, orderID int64) error {
	order, record, err := s.loadOrderService(ctx, orderID)
	if err != nil {
		return err
	}
	if !syncStatus(order, record) {
		return nil
	}
	if err := s.services.Update(ctx, record); err != nil {
		return fmt.Errorf("store record: %w", err)
	}
	s.logAction(ctx, record.ID, "status_synced", record.Status, "Status mirrored from order")
	return nil
}

// syncStatus applies the order's status to the record when it maps to a
// known service status and differs. Reports whether the record changed.
func syncStatus(order *models.Order, record *models.ServiceRecord) bool {
	switch order.Status {
	case models.StatusPending, models.StatusActive, models.StatusSuspended, models.StatusDeleted:
	default:
		return false
	}
	if record.Status == order.Status {
		return false
	}
	record.Status = order.Status
	return true
}

// TestConnection verifies the global panel credentials by listing nodes.
// It never returns an error; failures are reported in the response.
func (s *ProvisionService) TestConnection(ctx context.Context) *models.TestConnectionResponse {
	cfg, err := s.resolveConfig(ctx, nil)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return &models.TestConnectionResponse{Success: false, Message: err.Error()}
	}

	api := client.New(cfg.PanelURL, cfg.APIKey, s.log)
	start := time.Now()
	nodes, err := api.GetNodes(ctx)
	if err != nil {
		return &models.TestConnectionResponse{Success: false, Message: err.Error()}
	}

	resp := &models.TestConnectionResponse{
		Success:   true,
		Message:   "Connection successful",
		Latency:   fmt.Sprintf("%.2fms", float64(time.Since(start).Microseconds())/1000),
		NodeCount: len(nodes),
	}
	for _, node := range nodes {
		resp.Nodes = append(resp.Nodes, models.TestedNodeSummary{
			Name:        node.Name,
			FQDN:        node.FQDN,
			Scheme:      node.Scheme,
			Port:        node.DaemonListen,
			Maintenance: node.Maintenance,
		})
	}
	return resp
}

// GetSSOUrl returns a pre-authenticated panel URL for the order's server,
// or an empty string when SSO is unconfigured or any step fails. It never
// returns an error.
func (s *ProvisionService) GetSSOUrl(ctx context.Context, orderID int64) string {
	order, record, err := s.loadOrderService(ctx, orderID)
	if err != nil || !record.HasServer() {
		return ""
	}

	cfg, err := s.resolveConfig(ctx, order.Config)
	if err != nil || cfg.SSOSecret == "" {
		return ""
	}
	api, err := s.api(cfg)
	if err != nil {
		return ""
	}

	server, err := api.GetServerDetails(ctx, *record.ServerID)
	if err != nil {
		s.log.Warn("sso lookup failed", zap.Int64("order_id", orderID), zap.Error(err))
		return ""
	}

	url, err := api.GetSSORedirect(ctx, server.User, cfg.SSOSecret)
	if err != nil {
		s.log.Warn("sso redirect failed", zap.Int64("order_id", orderID), zap.Error(err))
		return ""
	}
	return url
}

// GetServiceForOrder returns the sanitized client-facing view of an
// order's service record.
func (s *ProvisionService) GetServiceForOrder(ctx context.Context, orderID int64) (*models.ServiceResponse, error) {
	_, record, err := s.loadOrderService(ctx, orderID)
	if err != nil {
		return nil, err
	}

	config := make(map[string]interface{}, len(record.Config))
	for key, value := range record.Config {
		config[key] = value
	}
	// Never hand panel credentials or initial passwords to the client area.
	delete(config, "api_key")
	delete(config, "sso_secret")
	delete(config, "password")

	resp := &models.ServiceResponse{
		ID:               record.ID,
		Status:           record.Status,
		ServerID:         record.ServerID,
		ServerIdentifier: record.ServerIdentifier,
		Config:           config,
		CreatedAt:        record.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        record.UpdatedAt.Format(time.RFC3339),
	}

	if record.ServerIdentifier != nil {
		if settings, err := s.settings.GetPanelSettings(ctx); err == nil && settings.PanelURL != "" {
			resp.PanelURL = strings.TrimRight(settings.PanelURL, "/") + "/server/" + *record.ServerIdentifier
		}
	}

	return resp, nil
}

// GetProvisionLogs returns the action history of an order's service
// record, newest first.
func (s *ProvisionService) GetProvisionLogs(ctx context.Context, orderID int64, limit int) ([]*models.ProvisionLog, error) {
	_, record, err := s.loadOrderService(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.logs.GetByServiceID(ctx, record.ID, limit)
}

// GetServerStatus reports the panel-side state of a server.
func (s *ProvisionService) GetServerStatus(ctx context.Context, serverID int64) (string, error) {
	server, err := s.GetServerInfo(ctx, serverID)
	if err != nil {
		return "", err
	}
	if server.Suspended {
		return models.StatusSuspended, nil
	}
	return models.StatusActive, nil
}

// GetServerInfo fetches a server's attributes from the panel.
func (s *ProvisionService) GetServerInfo(ctx context.Context, serverID int64) (*client.Server, error) {
	api, err := s.globalAPI(ctx)
	if err != nil {
		return nil, err
	}
	server, err := api.GetServerDetails(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("get server info: %w", err)
	}
	return server, nil
}

// GetServerVariables fetches a server's startup variables from the panel.
func (s *ProvisionService) GetServerVariables(ctx context.Context, serverID int64) ([]client.ServerVariable, error) {
	api, err := s.globalAPI(ctx)
	if err != nil {
		return nil, err
	}
	return api.GetServerStartup(ctx, serverID)
}

// UpdateServerVariables merges new values into a server's startup
// variables and pushes the result to the panel.
func (s *ProvisionService) UpdateServerVariables(ctx context.Context, serverID int64, variables map[string]string) error {
	api, err := s.globalAPI(ctx)
	if err != nil {
		return err
	}

	server, err := api.GetServerDetails(ctx, serverID)
	if err != nil {
		return fmt.Errorf("read server details: %w", err)
	}
	current, err := api.GetServerStartup(ctx, serverID)
	if err != nil {
		return fmt.Errorf("read server variables: %w", err)
	}

	merged := make(map[string]string, len(current)+len(variables))
	for _, v := range current {
		merged[v.EnvVariable] = v.ServerValue
	}
	for key, value := range variables {
		merged[key] = value
	}

	return api.UpdateServerStartup(ctx, serverID, &client.UpdateStartupRequest{
		Startup:     server.Container.StartupCommand,
		Environment: merged,
		Egg:         server.Egg,
		Image:       server.Container.Image,
		SkipScripts: true,
	})
}

// ListNodes returns the admin node listing; empty on any failure.
func (s *ProvisionService) ListNodes(ctx context.Context) []models.NodeSummary {
	api, err := s.globalAPI(ctx)
	if err != nil {
		return nil
	}
	nodes, err := api.GetNodes(ctx)
	if err != nil {
		return nil
	}
	summaries := make([]models.NodeSummary, 0, len(nodes))
	for _, node := range nodes {
		summaries = append(summaries, models.NodeSummary{
			ID:          node.ID,
			Name:        node.Name,
			LocationID:  node.LocationID,
			Public:      node.Public,
			Maintenance: node.Maintenance,
		})
	}
	return summaries
}

// ListLocations returns the admin location listing; empty on any failure.
func (s *ProvisionService) ListLocations(ctx context.Context) []models.LocationSummary {
	api, err := s.globalAPI(ctx)
	if err != nil {
		return nil
	}
	locations, err := api.GetLocations(ctx)
	if err != nil {
		return nil
	}
	summaries := make([]models.LocationSummary, 0, len(locations))
	for _, location := range locations {
		summaries = append(summaries, models.LocationSummary{
			ID:    location.ID,
			Short: location.Short,
			Long:  location.Long,
		})
	}
	return summaries
}

// ListEggs flattens all nests into the admin egg listing; empty on any
// failure.
func (s *ProvisionService) ListEggs(ctx context.Context) []models.EggSummary {
	api, err := s.globalAPI(ctx)
	if err != nil {
		return nil
	}
	nests, err := api.GetNests(ctx)
	if err != nil {
		return nil
	}
	var summaries []models.EggSummary
	for _, nest := range nests {
		for _, egg := range nest.Eggs() {
			summaries = append(summaries, models.EggSummary{
				ID:          egg.ID,
				Name:        egg.Name,
				NestName:    nest.Name,
				DockerImage: egg.DockerImage,
				Startup:     egg.Startup,
			})
		}
	}
	return summaries
}

// GetEggDetails fetches an egg with its variable schema, locating the
// owning nest first.
func (s *ProvisionService) GetEggDetails(ctx context.Context, eggID int) (*client.Egg, error) {
	api, err := s.globalAPI(ctx)
	if err != nil {
		return nil, err
	}
	return s.eggInfo(ctx, api, eggID, 0)
}

// createPanelServer performs the full placement: panel user, egg schema,
// node, environment, allocation(s) and the final create call.
func (s *ProvisionService) createPanelServer(
	ctx context.Context,
	api *client.PanelClient,
	cfg PanelConfig,
	order *models.Order,
	record *models.ServiceRecord,
	billingClient *models.Client,
) (*client.Server, error) {
	config := record.Config
	if len(config) == 0 {
		config = order.Config
	}
	req := models.PlacementFromConfig(config)
	if req.EggID == 0 {
		return nil, fmt.Errorf("egg id not configured for this product")
	}

	userID, err := s.getOrCreateUser(ctx, api, billingClient)
	if err != nil {
		return nil, err
	}

	egg, err := s.eggInfo(ctx, api, req.EggID, models.ConfigInt(config, "nest_id", 0))
	if err != nil {
		return nil, err
	}

	env := BuildEnvironment(egg.Variables(), req)

	nodeID, err := NewNodeSelector(api, s.log).Select(ctx, cfg, req)
	if err != nil {
		return nil, err
	}

	resolver := NewAllocationResolver(api)
	rule := cfg.AllocationRule(nodeID)

	var defaultAllocation *client.Allocation
	var additional []int
	if n := req.FeatureLimits.Allocations; n > 1 {
		// Pre-attach the extra allocations from the existing pool when it
		// is large enough; otherwise fall through to the single path and
		// let the user claim more later.
		preferredIP := ""
		if rule != nil {
			preferredIP = rule.Host
		}
		if pool, err := resolver.FindFreeMany(ctx, nodeID, n, preferredIP); err == nil {
			defaultAllocation = &pool[0]
			for _, allocation := range pool[1:] {
				additional = append(additional, allocation.ID)
			}
		} else {
			s.log.Warn("not enough free allocations, falling back to a single allocation",
				zap.Int("node_id", nodeID),
				zap.Int("requested", n),
				zap.Error(err),
			)
		}
	}
	if defaultAllocation == nil {
		defaultAllocation, err = resolver.FindFree(ctx, nodeID, rule)
		if err != nil {
			return nil, err
		}
	}

	if env.WantsAutoPort {
		if req.AutoPort {
			env.ApplyPort(defaultAllocation.Port)
		} else {
			s.log.Warn("variable requests AUTO_PORT but auto_port is disabled, leaving literal value",
				zap.Int64("service_id", record.ID))
		}
	}

	dockerImage := req.DockerImage
	if dockerImage == "" {
		dockerImage = egg.DockerImage
	}
	startup := req.StartupCommand
	if startup == "" {
		startup = egg.Startup
	}

	createReq := &client.CreateServerRequest{
		Name:          s.serverName(req, billingClient, record.ID, order.Title),
		User:          userID,
		Egg:           req.EggID,
		DockerImage:   dockerImage,
		Startup:       startup,
		Description:   req.Description,
		OOMDisabled:   req.OOMDisabled,
		Environment:   env.Variables,
		Limits:        req.Limits,
		FeatureLimits: req.FeatureLimits,
		Allocation: client.AllocationPayload{
			Default:    defaultAllocation.ID,
			Additional: additional,
		},
	}

	server, err := api.CreateServer(ctx, createReq)
	if err != nil {
		return nil, err
	}
	if server.ID == 0 {
		return nil, fmt.Errorf("panel did not return a server id")
	}
	return server, nil
}

func (s *ProvisionService) serverName(req models.PlacementRequest, billingClient *models.Client, serviceID int64, orderTitle string) string {
	pattern := req.ServerNamePattern
	if pattern == "" {
		if req.ServerName != "" {
			return req.ServerName
		}
		pattern = DefaultServerNamePattern
	}
	name := RenderServerName(pattern, billingClient, serviceID, orderTitle, time.Now())
	if strings.TrimSpace(name) == "" {
		name = "Server-" + strconv.FormatInt(time.Now().Unix(), 10)
	}
	return name
}

// getOrCreateUser finds the panel user for the client's email, creating
// one on a miss. Search-first keeps the operation idempotent.
func (s *ProvisionService) getOrCreateUser(ctx context.Context, api *client.PanelClient, billingClient *models.Client) (int, error) {
	email := billingClient.Email
	if email == "" {
		email = "noemail@example.com"
	}

	users, err := api.GetUsers(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("search panel user: %w", err)
	}
	if len(users) > 0 {
		return users[0].ID, nil
	}

	firstName := billingClient.FirstName
	if firstName == "" {
		firstName = "Client"
	}
	lastName := billingClient.LastName
	if lastName == "" {
		lastName = "User"
	}

	user, err := api.CreateUser(ctx, &client.CreateUserRequest{
		Email:     email,
		Username:  GenerateUsername(email),
		FirstName: firstName,
		LastName:  lastName,
		Password:  RandomHex(16),
	})
	if err != nil {
		return 0, fmt.Errorf("create panel user: %w", err)
	}
	if user.ID == 0 {
		return 0, fmt.Errorf("panel did not return a user id")
	}
	return user.ID, nil
}

// eggInfo fetches an egg with its variables, scanning nests for the
// owning one when the nest id is not configured.
func (s *ProvisionService) eggInfo(ctx context.Context, api *client.PanelClient, eggID, nestID int) (*client.Egg, error) {
	if nestID == 0 {
		nests, err := api.GetNests(ctx)
		if err != nil {
			return nil, fmt.Errorf("list nests: %w", err)
		}
	scan:
		for _, nest := range nests {
			for _, egg := range nest.Eggs() {
				if egg.ID == eggID {
					nestID = nest.ID
					break scan
				}
			}
		}
		if nestID == 0 {
			return nil, fmt.Errorf("could not find nest containing egg %d", eggID)
		}
	}

	egg, err := api.GetEgg(ctx, nestID, eggID)
	if err != nil {
		return nil, fmt.Errorf("get egg info: %w", err)
	}
	return egg, nil
}

func (s *ProvisionService) loadOrderService(ctx context.Context, orderID int64) (*models.Order, *models.ServiceRecord, error) {
	order, err := s.orders.GetExistingOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if order.ServiceID == nil {
		return nil, nil, fmt.Errorf("order %d has no service record", orderID)
	}
	record, err := s.services.GetByID(ctx, *order.ServiceID)
	if err != nil {
		return nil, nil, fmt.Errorf("load service record %d: %w", *order.ServiceID, err)
	}
	return order, record, nil
}

func (s *ProvisionService) resolveConfig(ctx context.Context, orderConfig map[string]interface{}) (PanelConfig, error) {
	settings, err := s.settings.GetPanelSettings(ctx)
	if err != nil {
		return PanelConfig{}, fmt.Errorf("load panel settings: %w", err)
	}
	return ResolvePanelConfig(settings, orderConfig), nil
}

func (s *ProvisionService) api(cfg PanelConfig) (*client.PanelClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return client.New(cfg.PanelURL, cfg.APIKey, s.log), nil
}

func (s *ProvisionService) globalAPI(ctx context.Context) (*client.PanelClient, error) {
	cfg, err := s.resolveConfig(ctx, nil)
	if err != nil {
		return nil, err
	}
	return s.api(cfg)
}

// ErrNotOwner is returned when a client addresses an order whose service
// record belongs to someone else.
var ErrNotOwner = errors.New("order does not belong to this client")

// AuthorizeOrderOwner verifies the order's service record belongs to the
// given client.
func (s *ProvisionService) AuthorizeOrderOwner(ctx context.Context, orderID, clientID int64) error {
	_, record, err := s.loadOrderService(ctx, orderID)
	if err != nil {
		return err
	}
	if record.ClientID != clientID {
		return ErrNotOwner
	}
	return nil
}

// GetVariablesForOrder fetches the startup variables of the order's server.
func (s *ProvisionService) GetVariablesForOrder(ctx context.Context, orderID int64) ([]client.ServerVariable, error) {
	_, record, err := s.loadOrderService(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !record.HasServer() {
		return nil, fmt.Errorf("order %d has no server", orderID)
	}
	return s.GetServerVariables(ctx, *record.ServerID)
}

// UpdateVariablesForOrder pushes new startup variables to the order's server.
func (s *ProvisionService) UpdateVariablesForOrder(ctx context.Context, orderID int64, variables map[string]string) error {
	_, record, err := s.loadOrderService(ctx, orderID)
	if err != nil {
		return err
	}
	if !record.HasServer() {
		return fmt.Errorf("order %d has no server", orderID)
	}
	return s.UpdateServerVariables(ctx, *record.ServerID, variables)
}

// GetSettings returns the stored global panel settings.
func (s *ProvisionService) GetSettings(ctx context.Context) (*models.SettingsResponse, error) {
	settings, err := s.settings.GetPanelSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load panel settings: %w", err)
	}
	return &models.SettingsResponse{
		PanelURL:     settings.PanelURL,
		APIKey:       settings.APIKey,
		SSOSecret:    settings.SSOSecret,
		AllowedNodes: settings.AllowedNodes,
		DefaultNode:  settings.DefaultNode,
	}, nil
}

// SaveSettings persists the global panel settings.
func (s *ProvisionService) SaveSettings(ctx context.Context, req *models.SettingsRequest) error {
	if err := s.settings.SavePanelSettings(ctx, req); err != nil {
		return fmt.Errorf("save panel settings: %w", err)
	}
	return nil
}

// logAction writes to the provision log, best effort: a failing log write
// must never mask the operation's own outcome.
func (s *ProvisionService) logAction(ctx context.Context, serviceID int64, action, status, message string) {
	if s.logs == nil {
		return
	}
	if err := s.logs.LogAction(ctx, serviceID, action, status, message); err != nil {
		s.log.Warn("provision log write failed",
			zap.Int64("service_id", serviceID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
