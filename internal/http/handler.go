package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/repository"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/service"
)

type Handler struct {
	provisionService *service.ProvisionService
}

func NewHandler(provisionService *service.ProvisionService) *Handler {
	return &Handler{
		provisionService: provisionService,
	}
}

// ==================== Order Lifecycle Handlers ====================

// CreateService creates the local service record for an order
func (h *Handler) CreateService(c *gin.Context) {
	var req models.OrderActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.provisionService.CreateService(c.Request.Context(), req.OrderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"service_id": record.ID, "status": record.Status})
}

// Provision creates the panel server for an order
func (h *Handler) Provision(c *gin.Context) {
	h.orderAction(c, h.provisionService.Provision)
}

// Suspend pauses the order's panel server
func (h *Handler) Suspend(c *gin.Context) {
	h.orderAction(c, h.provisionService.Suspend)
}

// Unsuspend resumes the order's panel server
func (h *Handler) Unsuspend(c *gin.Context) {
	h.orderAction(c, h.provisionService.Unsuspend)
}

// Unprovision deletes the order's panel server
func (h *Handler) Unprovision(c *gin.Context) {
	h.orderAction(c, h.provisionService.Unprovision)
}

// Cancel terminates the order's panel server
func (h *Handler) Cancel(c *gin.Context) {
	h.orderAction(c, h.provisionService.Cancel)
}

// Uncancel restores a canceled order
func (h *Handler) Uncancel(c *gin.Context) {
	h.orderAction(c, h.provisionService.Uncancel)
}

// Renew records an order renewal (no panel-side effect)
func (h *Handler) Renew(c *gin.Context) {
	h.orderAction(c, h.provisionService.Renew)
}

// SyncStatus mirrors the order status onto the service record
func (h *Handler) SyncStatus(c *gin.Context) {
	h.orderAction(c, h.provisionService.SyncStatus)
}

func (h *Handler) orderAction(c *gin.Context, action func(ctx context.Context, orderID int64) error) {
	var req models.OrderActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := action(c.Request.Context(), req.OrderID); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// UpdateServer merges a config patch and pushes new limits to the panel
func (h *Handler) UpdateServer(c *gin.Context) {
	var req models.UpdateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.provisionService.UpdateServer(c.Request.Context(), req.OrderID, req.Config); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ==================== Admin Panel Handlers ====================

// GetSettings returns the stored global panel settings
func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.provisionService.GetSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// SaveSettings persists the global panel settings
func (h *Handler) SaveSettings(c *gin.Context) {
	var req models.SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.provisionService.SaveSettings(c.Request.Context(), &req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// TestConnection verifies the panel credentials by listing nodes
func (h *Handler) TestConnection(c *gin.Context) {
	c.JSON(http.StatusOK, h.provisionService.TestConnection(c.Request.Context()))
}

// GetNodes lists the panel's nodes
func (h *Handler) GetNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nodes": h.provisionService.ListNodes(c.Request.Context())})
}

// GetLocations lists the panel's locations
func (h *Handler) GetLocations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"locations": h.provisionService.ListLocations(c.Request.Context())})
}

// GetEggs lists all eggs across nests
func (h *Handler) GetEggs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"eggs": h.provisionService.ListEggs(c.Request.Context())})
}

// GetEgg returns one egg with its variable schema
func (h *Handler) GetEgg(c *gin.Context) {
	eggID, err := strconv.Atoi(c.Param("id"))
	if err != nil || eggID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid egg id"})
		return
	}

	egg, err := h.provisionService.GetEggDetails(c.Request.Context(), eggID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           egg.ID,
		"name":         egg.Name,
		"docker_image": egg.DockerImage,
		"startup":      egg.Startup,
		"variables":    egg.Variables(),
	})
}

// GetProvisionLogs returns an order's provisioning action history
func (h *Handler) GetProvisionLogs(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.provisionService.GetProvisionLogs(c.Request.Context(), orderID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// GetServerStatus reports the panel-side state of a server
func (h *Handler) GetServerStatus(c *gin.Context) {
	serverID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || serverID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server id"})
		return
	}

	status, err := h.provisionService.GetServerStatus(c.Request.Context(), serverID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}

// GetServerInfo returns a panel server's attributes
func (h *Handler) GetServerInfo(c *gin.Context) {
	serverID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || serverID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server id"})
		return
	}

	server, err := h.provisionService.GetServerInfo(c.Request.Context(), serverID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, server)
}

// GetServerVariables returns a panel server's startup variables
func (h *Handler) GetServerVariables(c *gin.Context) {
	serverID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || serverID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server id"})
		return
	}

	vars, err := h.provisionService.GetServerVariables(c.Request.Context(), serverID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"variables": vars})
}

// UpdateServerVariables pushes new startup variables to a panel server
func (h *Handler) UpdateServerVariables(c *gin.Context) {
	serverID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || serverID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server id"})
		return
	}

	var req struct {
		Variables map[string]string `json:"variables" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.provisionService.UpdateServerVariables(c.Request.Context(), serverID, req.Variables); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ==================== Client API Handlers ====================

// GetMyService returns the client's view of an order's service
func (h *Handler) GetMyService(c *gin.Context) {
	orderID, ok := h.ownedOrder(c)
	if !ok {
		return
	}

	resp, err := h.provisionService.GetServiceForOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetMySSOUrl returns a pre-authenticated panel URL for the client
func (h *Handler) GetMySSOUrl(c *gin.Context) {
	orderID, ok := h.ownedOrder(c)
	if !ok {
		return
	}

	// 空字符串表示 SSO 未配置或不可用，前端据此隐藏按钮
	c.JSON(http.StatusOK, gin.H{"url": h.provisionService.GetSSOUrl(c.Request.Context(), orderID)})
}

// GetMyVariables returns the startup variables of the client's server
func (h *Handler) GetMyVariables(c *gin.Context) {
	orderID, ok := h.ownedOrder(c)
	if !ok {
		return
	}

	vars, err := h.provisionService.GetVariablesForOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"variables": vars})
}

// UpdateMyVariables pushes new startup variables for the client's server
func (h *Handler) UpdateMyVariables(c *gin.Context) {
	orderID, ok := h.ownedOrder(c)
	if !ok {
		return
	}

	var req struct {
		Variables map[string]string `json:"variables" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.provisionService.UpdateVariablesForOrder(c.Request.Context(), orderID, req.Variables); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ownedOrder parses the order id from the path and enforces ownership
// against the JWT client id.
func (h *Handler) ownedOrder(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}

	clientID := c.GetInt64("clientID")
	if err := h.provisionService.AuthorizeOrderOwner(c.Request.Context(), orderID, clientID); err != nil {
		if errors.Is(err, service.ErrNotOwner) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		} else {
			h.writeError(c, err)
		}
		return 0, false
	}

	return orderID, true
}

// writeError maps service errors onto HTTP status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case service.IsPlacementError(err):
		// 放置失败是业务结果而非服务故障
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
