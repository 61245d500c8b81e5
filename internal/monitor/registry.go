package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"netifmon/internal/models"

	"github.com/sirupsen/logrus"
)

const DefaultMaxInterfaces = 16

// cleanupSource is recorded as the client address of shutdown teardown events.
const cleanupSource = "local"

// EventRecorder receives an audit record for monitors torn down by
// CleanupAll.
type EventRecorder interface {
	LogAction(ifname, action, details, ipAddress string) error
}

type Options struct {
	Sampler       SamplerConfig
	MaxInterfaces int
	Metrics       *Metrics
	Events        EventRecorder
}

// Registry is the set of active monitors keyed by interface name.
//
// opMu serializes membership changes together with the start/stop they
// trigger. mu guards only the map, so status and stats readers never wait
// behind a stopping sampler.
type Registry struct {
	opMu sync.Mutex

	mu       sync.RWMutex
	monitors map[string]*Monitor

	capacity int
	sampler  SamplerConfig
	metrics  *Metrics
	events   EventRecorder
}

func NewRegistry(opts Options) *Registry {
	capacity := opts.MaxInterfaces
	if capacity <= 0 {
		capacity = DefaultMaxInterfaces
	}
	return &Registry{
		monitors: make(map[string]*Monitor),
		capacity: capacity,
		sampler:  opts.Sampler,
		metrics:  opts.Metrics,
		events:   opts.Events,
	}
}

func (r *Registry) lookup(name string) *Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.monitors[name]
}

// Lookup returns the monitor registered for name.
func (r *Registry) Lookup(name string) (*Monitor, bool) {
	m := r.lookup(name)
	return m, m != nil
}

// Status reports whether name has a running monitor.
func (r *Registry) Status(name string) bool {
	m := r.lookup(name)
	return m != nil && m.Running()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}

func (r *Registry) Capacity() int {
	return r.capacity
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.monitors))
	for name := range r.monitors {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// SetMonitor enables or disables monitoring of name. Enabling an interface
// that already has a monitor restarts its sampler if it exited and is
// otherwise a no-op; disabling an unknown interface is a no-op.
func (r *Registry) SetMonitor(ctx context.Context, name string, enabled bool) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	if enabled {
		return r.enable(name)
	}
	return r.disable(ctx, name)
}

func (r *Registry) enable(name string) error {
	if m := r.lookup(name); m != nil {
		return m.Start()
	}

	if n := r.Len(); n >= r.capacity {
		return fmt.Errorf("%w: %d of %d interfaces monitored", ErrCapacity, n, r.capacity)
	}

	m := NewMonitor(name, r.sampler, r.metrics)
	if err := m.Start(); err != nil {
		return err
	}

	r.mu.Lock()
	r.monitors[name] = m
	r.mu.Unlock()

	log.WithFields(logrus.Fields{"ifname": name}).Info("Monitoring enabled")
	return nil
}

func (r *Registry) disable(ctx context.Context, name string) error {
	m := r.lookup(name)
	if m == nil {
		return nil
	}

	err := m.Stop(ctx)

	// A monitor that could not be reaped is dropped anyway so the name can be
	// monitored again; the leak has been logged by Stop.
	r.mu.Lock()
	delete(r.monitors, name)
	r.mu.Unlock()
	r.metrics.forget(name)

	if err != nil {
		log.WithFields(logrus.Fields{"ifname": name}).WithError(err).Error("Failed to stop monitor")
		return err
	}

	log.WithFields(logrus.Fields{"ifname": name}).Info("Monitoring disabled")
	return nil
}

// Stats returns the latest sample of a running monitor.
func (r *Registry) Stats(name string) (models.StatsSample, error) {
	m := r.lookup(name)
	if m == nil || !m.Running() {
		return models.StatsSample{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	sample, _ := m.Latest()
	return sample, nil
}

// CleanupAll stops and removes every monitor. Calling it again is harmless.
func (r *Registry) CleanupAll(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.RLock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.RUnlock()

	var errs []error
	for _, m := range monitors {
		details := "monitor stopped at shutdown"
		if err := m.Stop(ctx); err != nil {
			log.WithFields(logrus.Fields{"ifname": m.Name()}).WithError(err).Error("Failed to stop monitor during cleanup")
			errs = append(errs, err)
			details = "monitor abandoned at shutdown: " + err.Error()
		}
		r.recordCleanup(m.Name(), details)

		r.mu.Lock()
		delete(r.monitors, m.Name())
		r.mu.Unlock()
		r.metrics.forget(m.Name())
	}

	if len(monitors) > 0 {
		log.WithFields(logrus.Fields{"count": len(monitors)}).Info("All monitors stopped")
	}
	return errors.Join(errs...)
}

func (r *Registry) recordCleanup(name, details string) {
	if r.events == nil {
		return
	}
	if err := r.events.LogAction(name, models.ActionMonitorCleanup, details, cleanupSource); err != nil {
		log.WithFields(logrus.Fields{"ifname": name}).WithError(err).Warn("Failed to record cleanup event")
	}
}
