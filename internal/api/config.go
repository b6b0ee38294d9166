package api

import (
	"context"
	"net/http"

	"cheeznad/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// OverrideStore engine_config 键值表，*config.DatabaseConfig 实现了它
type OverrideStore interface {
	ListConfigs(ctx context.Context) ([]config.ConfigEntry, error)
	GetConfig(ctx context.Context, key string) (string, error)
	UpdateConfig(ctx context.Context, key, value string) error
}

// ConfigManager 配置查询与数据库覆盖项管理
type ConfigManager struct {
	effective *config.Config
	overrides OverrideStore
	logger    *logrus.Logger
}

// NewConfigManager 创建配置管理器，overrides 为空时覆盖项接口返回 503
func NewConfigManager(effective *config.Config, overrides OverrideStore, logger *logrus.Logger) *ConfigManager {
	return &ConfigManager{
		effective: effective,
		overrides: overrides,
		logger:    logger,
	}
}

// GetConfig 当前生效的配置，密钥类字段不会输出
func (cm *ConfigManager) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"config":            cm.effective,
		"overrides_enabled": cm.overrides != nil,
	})
}

// GetOverrides 列出覆盖项，带 key 参数时只返回一项
func (cm *ConfigManager) GetOverrides(c *gin.Context) {
	if !cm.requireStore(c) {
		return
	}

	key := c.Query("key")
	if key == "" {
		entries, err := cm.overrides.ListConfigs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "获取配置失败",
				"message": err.Error(),
			})
			return
		}
		if entries == nil {
			entries = []config.ConfigEntry{}
		}
		c.JSON(http.StatusOK, gin.H{
			"overrides": entries,
			"total":     len(entries),
		})
		return
	}

	value, err := cm.overrides.GetConfig(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "配置不存在",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":   key,
		"value": value,
	})
}

// UpdateOverride 写入一个覆盖项，下次启动时生效
func (cm *ConfigManager) UpdateOverride(c *gin.Context) {
	if !cm.requireStore(c) {
		return
	}

	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	if err := config.ValidateOverride(req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "配置值无效",
			"message": err.Error(),
		})
		return
	}

	if err := cm.overrides.UpdateConfig(c.Request.Context(), req.Key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "更新配置失败",
			"message": err.Error(),
		})
		return
	}

	cm.logger.Infof("配置覆盖项已更新: %s=%s", req.Key, req.Value)
	c.JSON(http.StatusOK, gin.H{
		"message": "配置更新成功，重启后生效",
		"config": gin.H{
			"key":   req.Key,
			"value": req.Value,
		},
	})
}

func (cm *ConfigManager) requireStore(c *gin.Context) bool {
	if cm.overrides != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "未配置数据库，无法管理覆盖项",
	})
	return false
}
