package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"netifmon/internal/models"
	"netifmon/internal/monitor"
	"netifmon/internal/services"
)

const sampleLine = `{"index":1,"seconds":5,"rx":{"ratestring":"8.00 kbit/s","bytespersecond":1000,"packetspersecond":10,"bytes":5000,"packets":50,"totalbytes":5000,"totalpackets":50},"tx":{"ratestring":"1.60 kbit/s","bytespersecond":200,"packetspersecond":2,"bytes":1000,"packets":10,"totalbytes":1000,"totalpackets":10}}`

type fakeInterfaces struct {
	registry *monitor.Registry
	err      error
}

func (f *fakeInterfaces) ListInterfaces(max int) ([]models.InterfaceInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	all := []models.InterfaceInfo{
		{Name: "lo", InetAddr: "127.0.0.1", Mask: "255.0.0.0", IsUp: true},
		{Name: "eth0", HWAddr: "52:54:00:12:34:56", InetAddr: "192.168.1.10", Mask: "255.255.255.0", IsUp: true},
		{Name: "eth1", HWAddr: "52:54:00:ab:cd:ef"},
	}
	for i := range all {
		all[i].Monitoring = f.registry.Status(all[i].Name)
	}
	if max > 0 && len(all) > max {
		all = all[:max]
	}
	return all, nil
}

func (f *fakeInterfaces) GetInterface(name string) (*models.InterfaceInfo, error) {
	all, err := f.ListInterfaces(0)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == name {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", services.ErrInterfaceNotFound, name)
}

// stuckRegistry fails every change as if the sampler could not be reaped.
type stuckRegistry struct{}

func (stuckRegistry) Status(name string) bool { return true }

func (stuckRegistry) SetMonitor(ctx context.Context, name string, enabled bool) error {
	return fmt.Errorf("%w: sampler for %s (pid 4242) not reaped", monitor.ErrJoinTimeout, name)
}

func (stuckRegistry) Stats(name string) (models.StatsSample, error) {
	return models.StatsSample{}, nil
}

func (stuckRegistry) Names() []string { return []string{"eth0"} }

func (stuckRegistry) Capacity() int { return 1 }

type fakeEvents struct {
	logged []models.MonitorEvent
}

func (f *fakeEvents) LogAction(ifname, action, details, ipAddress string) error {
	f.logged = append(f.logged, models.MonitorEvent{
		ID:        int64(len(f.logged) + 1),
		Ifname:    ifname,
		Action:    action,
		Details:   details,
		IPAddress: ipAddress,
	})
	return nil
}

func (f *fakeEvents) Recent(ifname string, limit int) ([]models.MonitorEvent, error) {
	var out []models.MonitorEvent
	for i := len(f.logged) - 1; i >= 0 && len(out) < limit; i-- {
		if ifname == "" || f.logged[i].Ifname == ifname {
			out = append(out, f.logged[i])
		}
	}
	return out, nil
}

type fixture struct {
	handler  *NetifHandler
	registry *monitor.Registry
	events   *fakeEvents
}

func newFixture(t *testing.T, max int) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sampler.sh")
	script := "#!/bin/sh\necho '" + sampleLine + "'\nexec sleep 60\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write sampler: %v", err)
	}

	registry := monitor.NewRegistry(monitor.Options{
		Sampler:       monitor.SamplerConfig{Path: path, Args: []string{}, StopTimeout: 2 * time.Second},
		MaxInterfaces: max,
	})
	t.Cleanup(func() { registry.CleanupAll(context.Background()) })

	events := &fakeEvents{}
	return &fixture{
		handler:  NewNetifHandler(&fakeInterfaces{registry: registry}, registry, events, 0),
		registry: registry,
		events:   events,
	}
}

func serve(h http.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.10:40000"
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
}

func TestMonitorStatsScenario(t *testing.T) {
	f := newFixture(t, 4)

	rec := serve(f.handler.SetMonitor, http.MethodPost, "/netif/monitor?ifname=eth0&enabled=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp monitorResponse
	decode(t, rec, &resp)
	if !resp.Success || resp.Ifname != "eth0" || !resp.Monitoring {
		t.Fatalf("unexpected response: %+v", resp)
	}

	var stats models.StatsSample
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = serve(f.handler.Stats, http.MethodGet, "/netif/stats?ifname=eth0")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		decode(t, rec, &stats)
		if stats.Seconds == 5 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if stats.Seconds != 5 || stats.RX.BytesPerSecond != 1000 || stats.TX.BytesPerSecond != 200 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec = serve(f.handler.SetMonitor, http.MethodPost, "/netif/monitor?ifname=eth0&enabled=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(f.handler.Stats, http.MethodGet, "/netif/stats?ifname=eth0")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var errResp errorResponse
	decode(t, rec, &errResp)
	if errResp.Success || errResp.Error == "" {
		t.Fatalf("expected error body, got %+v", errResp)
	}

	if len(f.events.logged) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(f.events.logged))
	}
	if f.events.logged[0].Action != models.ActionMonitorEnable || f.events.logged[1].Action != models.ActionMonitorDisable {
		t.Fatalf("unexpected audit actions: %+v", f.events.logged)
	}
	if f.events.logged[0].IPAddress != "192.0.2.10:40000" {
		t.Fatalf("expected client address, got %q", f.events.logged[0].IPAddress)
	}
}

func TestListReportsMonitoring(t *testing.T) {
	f := newFixture(t, 4)
	if err := f.registry.SetMonitor(context.Background(), "eth0", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := serve(f.handler.List, http.MethodGet, "/netif/list")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var ifaces []models.InterfaceInfo
	decode(t, rec, &ifaces)
	if len(ifaces) != 3 {
		t.Fatalf("expected 3 interfaces, got %d", len(ifaces))
	}
	if !ifaces[1].Monitoring || ifaces[0].Monitoring || ifaces[2].Monitoring {
		t.Fatalf("expected only eth0 monitored: %+v", ifaces)
	}
	if ifaces[2].IsUp {
		t.Fatalf("expected eth1 down")
	}
}

func TestListFailureReturnsEmptyArray(t *testing.T) {
	h := NewNetifHandler(&fakeInterfaces{err: errors.New("netlink unavailable")}, nil, nil, 0)

	rec := serve(h.List, http.MethodGet, "/netif/list")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]" {
		t.Fatalf("expected empty array, got %q", body)
	}
}

func TestSetMonitorErrors(t *testing.T) {
	f := newFixture(t, 1)
	if err := f.registry.SetMonitor(context.Background(), "eth0", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"missing ifname", "/netif/monitor?enabled=1", http.StatusBadRequest},
		{"bad enabled", "/netif/monitor?ifname=eth1&enabled=maybe", http.StatusBadRequest},
		{"missing enabled", "/netif/monitor?ifname=eth1", http.StatusBadRequest},
		{"name too long", "/netif/monitor?ifname=abcdefghijklmnopqrstuvwxyz0123456789&enabled=1", http.StatusBadRequest},
		{"capacity", "/netif/monitor?ifname=eth1&enabled=1", http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(f.handler.SetMonitor, http.MethodPost, tt.target)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			var resp errorResponse
			decode(t, rec, &resp)
			if resp.Success || resp.Error == "" {
				t.Fatalf("expected failure body, got %+v", resp)
			}
		})
	}

	if len(f.events.logged) != 0 {
		t.Fatalf("expected no audit events for failed requests, got %d", len(f.events.logged))
	}
}

func TestMonitorStatus(t *testing.T) {
	f := newFixture(t, 4)

	rec := serve(f.handler.MonitorStatus, http.MethodGet, "/netif/monitor?ifname=eth0")
	var resp monitorResponse
	decode(t, rec, &resp)
	if resp.Monitoring {
		t.Fatalf("expected eth0 not monitored")
	}

	if err := f.registry.SetMonitor(context.Background(), "eth0", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec = serve(f.handler.MonitorStatus, http.MethodGet, "/netif/monitor?ifname=eth0")
	decode(t, rec, &resp)
	if !resp.Monitoring || resp.Ifname != "eth0" {
		t.Fatalf("expected eth0 monitored, got %+v", resp)
	}

	rec = serve(f.handler.MonitorStatus, http.MethodGet, "/netif/monitor")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStatsRequiresIfname(t *testing.T) {
	f := newFixture(t, 4)

	rec := serve(f.handler.Stats, http.MethodGet, "/netif/stats")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEvents(t *testing.T) {
	f := newFixture(t, 4)
	serve(f.handler.SetMonitor, http.MethodPost, "/netif/monitor?ifname=eth0&enabled=1")
	serve(f.handler.SetMonitor, http.MethodPost, "/netif/monitor?ifname=eth1&enabled=1")

	rec := serve(f.handler.Events, http.MethodGet, "/netif/events?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var events []models.MonitorEvent
	decode(t, rec, &events)
	if len(events) != 1 || events[0].Ifname != "eth1" {
		t.Fatalf("expected newest eth1 event, got %+v", events)
	}

	rec = serve(f.handler.Events, http.MethodGet, "/netif/events?limit=-3")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	disabled := NewNetifHandler(&fakeInterfaces{registry: f.registry}, f.registry, nil, 0)
	rec = serve(disabled.Events, http.MethodGet, "/netif/events")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with audit disabled, got %d", rec.Code)
	}
}

func TestSetMonitorJoinTimeout(t *testing.T) {
	events := &fakeEvents{}
	h := NewNetifHandler(&fakeInterfaces{}, stuckRegistry{}, events, 0)

	rec := serve(h.SetMonitor, http.MethodPost, "/netif/monitor?ifname=eth0&enabled=0")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp errorResponse
	decode(t, rec, &resp)
	if resp.Success || resp.Error == "" {
		t.Fatalf("expected failure body, got %+v", resp)
	}
	if len(events.logged) != 0 {
		t.Fatalf("expected no audit event for a failed disable, got %d", len(events.logged))
	}
}

func TestStatusForErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: eth 0", monitor.ErrInvalidName), http.StatusBadRequest},
		{fmt.Errorf("%w: eth0", monitor.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: wlan0", services.ErrInterfaceNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: 1 of 1", monitor.ErrCapacity), http.StatusConflict},
		{fmt.Errorf("%w: vnstat", monitor.ErrSpawn), http.StatusInternalServerError},
		{fmt.Errorf("%w: eth0", monitor.ErrJoinTimeout), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestInterface(t *testing.T) {
	f := newFixture(t, 4)
	if err := f.registry.SetMonitor(context.Background(), "eth0", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := serve(f.handler.Interface, http.MethodGet, "/netif/interface?ifname=eth0")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var iface models.InterfaceInfo
	decode(t, rec, &iface)
	if iface.Name != "eth0" || iface.InetAddr != "192.168.1.10" || !iface.Monitoring {
		t.Fatalf("unexpected interface: %+v", iface)
	}

	rec = serve(f.handler.Interface, http.MethodGet, "/netif/interface?ifname=wlan0")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = serve(f.handler.Interface, http.MethodGet, "/netif/interface")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMonitors(t *testing.T) {
	f := newFixture(t, 2)

	rec := serve(f.handler.Monitors, http.MethodGet, "/netif/monitors")
	var resp monitorsResponse
	decode(t, rec, &resp)
	if resp.Capacity != 2 || resp.Monitors == nil || len(resp.Monitors) != 0 {
		t.Fatalf("expected empty registry with capacity 2, got %+v", resp)
	}

	for _, name := range []string{"eth1", "eth0"} {
		if err := f.registry.SetMonitor(context.Background(), name, true); err != nil {
			t.Fatalf("unexpected error for %s: %v", name, err)
		}
	}
	rec = serve(f.handler.Monitors, http.MethodGet, "/netif/monitors")
	decode(t, rec, &resp)
	if len(resp.Monitors) != 2 || resp.Monitors[0] != "eth0" || resp.Monitors[1] != "eth1" {
		t.Fatalf("expected sorted monitors, got %+v", resp)
	}
}
