package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wenwu/saas-platform/pterodactyl-service/internal/models"
)

// SettingRepository stores the module's global parameters in the shared
// settings table, one row per parameter.
type SettingRepository struct {
	pool *pgxpool.Pool
}

func NewSettingRepository(pool *pgxpool.Pool) *SettingRepository {
	return &SettingRepository{pool: pool}
}

// GetParamValue reads one parameter, returning def when unset.
func (r *SettingRepository) GetParamValue(ctx context.Context, param, def string) (string, error) {
	query := `SELECT value FROM pterodactyl.settings WHERE param = $1`

	var value string
	err := r.pool.QueryRow(ctx, query, param).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return def, nil
		}
		return def, fmt.Errorf("read setting %s: %w", param, err)
	}
	return value, nil
}

// SetParamValue upserts one parameter.
func (r *SettingRepository) SetParamValue(ctx context.Context, param, value string) error {
	query := `
		INSERT INTO pterodactyl.settings (param, value)
		VALUES ($1, $2)
		ON CONFLICT (param) DO UPDATE SET value = EXCLUDED.value
	`

	_, err := r.pool.Exec(ctx, query, param, value)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", param, err)
	}
	return nil
}

// GetPanelSettings loads the typed panel settings. Missing or malformed
// JSON parameters degrade to their zero values rather than failing, so a
// half-configured module still reports a usable (if empty) config.
func (r *SettingRepository) GetPanelSettings(ctx context.Context) (*models.PanelSettings, error) {
	s := &models.PanelSettings{}

	var err error
	if s.PanelURL, err = r.GetParamValue(ctx, models.ParamPanelURL, ""); err != nil {
		return nil, err
	}
	if s.APIKey, err = r.GetParamValue(ctx, models.ParamAPIKey, ""); err != nil {
		return nil, err
	}
	if s.SSOSecret, err = r.GetParamValue(ctx, models.ParamSSOSecret, ""); err != nil {
		return nil, err
	}

	allowed, err := r.GetParamValue(ctx, models.ParamAllowedNodes, "[]")
	if err != nil {
		return nil, err
	}
	if json.Unmarshal([]byte(allowed), &s.AllowedNodes) != nil {
		s.AllowedNodes = nil
	}

	defaultNode, err := r.GetParamValue(ctx, models.ParamDefaultNode, "0")
	if err != nil {
		return nil, err
	}
	if n, convErr := strconv.Atoi(defaultNode); convErr == nil {
		s.DefaultNode = n
	}

	allocMap, err := r.GetParamValue(ctx, models.ParamNodeAllocationMap, "{}")
	if err != nil {
		return nil, err
	}
	raw := map[string]models.NodeAllocationRule{}
	if json.Unmarshal([]byte(allocMap), &raw) == nil && len(raw) > 0 {
		s.AllocationMap = make(map[int]models.NodeAllocationRule, len(raw))
		for key, rule := range raw {
			if nodeID, convErr := strconv.Atoi(key); convErr == nil {
				s.AllocationMap[nodeID] = rule
			}
		}
	}

	return s, nil
}

// SavePanelSettings persists the fields present in the request.
func (r *SettingRepository) SavePanelSettings(ctx context.Context, req *models.SettingsRequest) error {
	if req.PanelURL != nil {
		if err := r.SetParamValue(ctx, models.ParamPanelURL, *req.PanelURL); err != nil {
			return err
		}
	}
	if req.APIKey != nil {
		if err := r.SetParamValue(ctx, models.ParamAPIKey, *req.APIKey); err != nil {
			return err
		}
	}
	if req.SSOSecret != nil {
		if err := r.SetParamValue(ctx, models.ParamSSOSecret, *req.SSOSecret); err != nil {
			return err
		}
	}

	// An absent list means "none allowed": unchecking every node must stick.
	allowed := req.AllowedNodes
	if allowed == nil {
		allowed = []int{}
	}
	encoded, err := json.Marshal(allowed)
	if err != nil {
		return fmt.Errorf("encode allowed nodes: %w", err)
	}
	if err := r.SetParamValue(ctx, models.ParamAllowedNodes, string(encoded)); err != nil {
		return err
	}

	if req.DefaultNode != nil {
		if err := r.SetParamValue(ctx, models.ParamDefaultNode, strconv.Itoa(*req.DefaultNode)); err != nil {
			return err
		}
	}

	if req.NodeAllocationMap != nil {
		keyed := make(map[string]models.NodeAllocationRule, len(req.NodeAllocationMap))
		for nodeID, rule := range req.NodeAllocationMap {
			keyed[strconv.Itoa(nodeID)] = rule
		}
		encoded, err := json.Marshal(keyed)
		if err != nil {
			return fmt.Errorf("encode node allocation map: %w", err)
		}
		if err := r.SetParamValue(ctx, models.ParamNodeAllocationMap, string(encoded)); err != nil {
			return err
		}
	}

	return nil
}
