package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"netifmon/internal/middleware"
	"netifmon/internal/models"
	"netifmon/internal/monitor"
	"netifmon/internal/services"

	"github.com/sirupsen/logrus"
)

const defaultEventLimit = 50

type InterfaceLister interface {
	ListInterfaces(max int) ([]models.InterfaceInfo, error)
	GetInterface(name string) (*models.InterfaceInfo, error)
}

type MonitorRegistry interface {
	Status(name string) bool
	SetMonitor(ctx context.Context, name string, enabled bool) error
	Stats(name string) (models.StatsSample, error)
	Names() []string
	Capacity() int
}

type EventLog interface {
	LogAction(ifname, action, details, ipAddress string) error
	Recent(ifname string, limit int) ([]models.MonitorEvent, error)
}

type NetifHandler struct {
	interfaces InterfaceLister
	registry   MonitorRegistry
	events     EventLog
	listLimit  int
}

// NewNetifHandler wires the /netif endpoints. events may be nil when the
// audit log is disabled.
func NewNetifHandler(interfaces InterfaceLister, registry MonitorRegistry, events EventLog, listLimit int) *NetifHandler {
	return &NetifHandler{
		interfaces: interfaces,
		registry:   registry,
		events:     events,
		listLimit:  listLimit,
	}
}

type monitorResponse struct {
	Success    bool   `json:"success"`
	Ifname     string `json:"ifname"`
	Monitoring bool   `json:"monitoring"`
}

type monitorsResponse struct {
	Success  bool     `json:"success"`
	Capacity int      `json:"capacity"`
	Monitors []string `json:"monitors"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (h *NetifHandler) List(w http.ResponseWriter, r *http.Request) {
	interfaces, err := h.interfaces.ListInterfaces(h.listLimit)
	if err != nil {
		log.WithError(err).Error("Failed to list interfaces")
		interfaces = []models.InterfaceInfo{}
	}

	writeJSON(w, http.StatusOK, interfaces)
}

func (h *NetifHandler) Interface(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("ifname"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "ifname is required")
		return
	}

	iface, err := h.interfaces.GetInterface(name)
	if err != nil {
		if !errors.Is(err, services.ErrInterfaceNotFound) {
			log.WithField("ifname", name).WithError(err).Error("Failed to read interface")
		}
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, iface)
}

// Monitors lists the monitored interfaces against the registry capacity.
func (h *NetifHandler) Monitors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, monitorsResponse{
		Success:  true,
		Capacity: h.registry.Capacity(),
		Monitors: h.registry.Names(),
	})
}

func (h *NetifHandler) Stats(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("ifname"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "ifname is required")
		return
	}

	stats, err := h.registry.Stats(name)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *NetifHandler) MonitorStatus(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("ifname"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "ifname is required")
		return
	}

	writeJSON(w, http.StatusOK, monitorResponse{
		Success:    true,
		Ifname:     name,
		Monitoring: h.registry.Status(name),
	})
}

func (h *NetifHandler) SetMonitor(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	name := strings.TrimSpace(r.FormValue("ifname"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "ifname is required")
		return
	}

	enabled, err := strconv.ParseBool(strings.TrimSpace(r.FormValue("enabled")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "enabled must be 0 or 1")
		return
	}

	entry := log.WithFields(logrus.Fields{"ifname": name, "enabled": enabled})
	if err := h.registry.SetMonitor(r.Context(), name, enabled); err != nil {
		entry.WithError(err).Warn("Failed to change monitoring")
		writeError(w, statusFor(err), err.Error())
		return
	}

	if h.events != nil {
		action, details := models.ActionMonitorDisable, "monitoring disabled"
		if enabled {
			action, details = models.ActionMonitorEnable, "monitoring enabled"
		}
		if err := h.events.LogAction(name, action, details, middleware.ClientIP(r)); err != nil {
			entry.WithError(err).Warn("Failed to record monitor event")
		}
	}

	writeJSON(w, http.StatusOK, monitorResponse{
		Success:    true,
		Ifname:     name,
		Monitoring: h.registry.Status(name),
	})
}

func (h *NetifHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.events.Recent(strings.TrimSpace(r.URL.Query().Get("ifname")), limit)
	if err != nil {
		log.WithError(err).Error("Failed to read monitor events")
		writeError(w, http.StatusInternalServerError, "failed to read monitor events")
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, monitor.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, monitor.ErrNotFound), errors.Is(err, services.ErrInterfaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, monitor.ErrCapacity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("Failed to encode response")
		status = http.StatusInternalServerError
		body = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, "failed to encode response"))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message})
}
