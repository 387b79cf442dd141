package app

import (
	"context"
	"fmt"
	"time"

	"relay/internal/engine/project"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	service *Service
}

func NewHealthService(service *Service) *HealthService {
	return &HealthService{service: service}
}

func (h *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}
	if h.service == nil {
		status.Status = "degraded"
		status.Components["service"] = "missing"
		return status
	}

	proj := h.service.Project()
	if proj == nil {
		status.Status = "degraded"
		status.Components["project"] = "missing"
	} else {
		state := proj.State()
		status.Components["project"] = fmt.Sprintf("%s (structure v%d, state v%d)", state, proj.StructureVersion(), proj.StateVersion())
		if state == project.StateClosed {
			status.Status = "degraded"
		}
	}

	if cache := h.service.Cache(); cache == nil {
		status.Status = "degraded"
		status.Components["resolution_cache"] = "missing"
	} else {
		status.Components["resolution_cache"] = fmt.Sprintf("ok (%d containing files)", cache.ContainingFileCount())
	}

	status.Components["queue"] = fmt.Sprintf("ok (%d pending)", h.service.Queue().Len())

	if h.service.cfg.DB.Enabled {
		if h.service.History() == nil {
			status.Status = "degraded"
			status.Components["history"] = "missing but enabled in config"
		} else {
			status.Components["history"] = "ok"
		}
	}

	return status
}
