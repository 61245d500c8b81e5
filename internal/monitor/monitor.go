package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"netifmon/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	DefaultSamplerPath = "vnstat"
	DefaultStopTimeout = 5 * time.Second

	maxLineSize = 64 * 1024
)

var errLineTooLong = errors.New("sampler line too long")

// DefaultSamplerArgs runs vnstat in live JSON mode. The interface name is
// appended as the final argument.
var DefaultSamplerArgs = []string{"-l", "--json", "-i"}

type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// SamplerConfig describes how the sampling process is launched.
type SamplerConfig struct {
	Path        string
	Args        []string
	StopTimeout time.Duration
}

func (c SamplerConfig) command(ifname string) *exec.Cmd {
	path := c.Path
	if path == "" {
		path = DefaultSamplerPath
	}
	args := c.Args
	if args == nil {
		args = DefaultSamplerArgs
	}
	args = append(append([]string(nil), args...), ifname)

	cmd := exec.Command(path, args...)
	// Own process group so a shell wrapper and its children are signalled together.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func (c SamplerConfig) stopTimeout() time.Duration {
	if c.StopTimeout <= 0 {
		return DefaultStopTimeout
	}
	return c.StopTimeout
}

// samplerRun is one sampler process together with the goroutines serving it.
type samplerRun struct {
	cmd        *exec.Cmd
	pipe       *os.File
	closeOnce  sync.Once
	readerDone chan struct{}
	exited     chan struct{}

	// reaped is set under mu before cmd.Wait releases the pid, so a signal
	// sent while holding mu can never reach a recycled process group.
	mu     sync.Mutex
	reaped bool
}

func (r *samplerRun) closePipe() {
	r.closeOnce.Do(func() {
		r.pipe.Close()
	})
}

func (r *samplerRun) isReaped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reaped
}

// waitExited blocks until the sampler has exited without reaping it, leaving
// the zombie to hold its pid and process group.
func (r *samplerRun) waitExited() {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, r.cmd.Process.Pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err != unix.EINTR {
			return
		}
	}
}

func (r *samplerRun) signal(sig syscall.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reaped {
		return
	}
	pid := r.cmd.Process.Pid
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		r.cmd.Process.Signal(sig)
	}
}

// Monitor supervises the sampler process of one interface and caches the
// latest sample it reported.
type Monitor struct {
	ifname  string
	sampler SamplerConfig
	metrics *Metrics

	// life serializes Start and Stop.
	life sync.Mutex

	mu         sync.Mutex
	state      State
	running    bool
	pid        int
	run        *samplerRun
	latest     models.StatsSample
	lastUpdate time.Time
}

func NewMonitor(ifname string, sampler SamplerConfig, metrics *Metrics) *Monitor {
	return &Monitor{
		ifname:  ifname,
		sampler: sampler,
		metrics: metrics,
	}
}

func (m *Monitor) Name() string {
	return m.ifname
}

// Start launches the sampler and its reader. It is a no-op while the
// monitor is starting or running.
func (m *Monitor) Start() error {
	m.life.Lock()
	defer m.life.Unlock()

	m.mu.Lock()
	if m.state == StateRunning || m.state == StateStarting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStarting
	stale := m.run
	m.mu.Unlock()

	// The previous sampler closed its output but may still be alive.
	if stale != nil {
		if err := m.terminate(context.Background(), stale); err != nil {
			log.WithFields(logrus.Fields{"ifname": m.ifname}).WithError(err).Warn("Previous sampler not released")
		}
		m.mu.Lock()
		m.run = nil
		m.pid = 0
		m.mu.Unlock()
	}

	run, err := m.spawn()
	m.metrics.samplerStarted(err)
	if err != nil {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		log.WithFields(logrus.Fields{"ifname": m.ifname}).WithError(err).Error("Failed to start sampler")
		return err
	}

	m.mu.Lock()
	m.run = run
	m.pid = run.cmd.Process.Pid
	m.running = true
	m.state = StateRunning
	m.mu.Unlock()

	go m.reap(run)
	go m.read(run)

	log.WithFields(logrus.Fields{
		"ifname": m.ifname,
		"pid":    run.cmd.Process.Pid,
	}).Info("Sampler started")
	return nil
}

func (m *Monitor) spawn() (*samplerRun, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: pipe for %s: %v", ErrSpawn, m.ifname, err)
	}

	cmd := m.sampler.command(m.ifname)
	cmd.Stdout = w
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, cmd.Path, err)
	}
	// The child holds its own copy; keeping ours would hide end-of-stream.
	w.Close()

	return &samplerRun{
		cmd:        cmd,
		pipe:       r,
		readerDone: make(chan struct{}),
		exited:     make(chan struct{}),
	}, nil
}

func (m *Monitor) reap(run *samplerRun) {
	run.waitExited()
	run.mu.Lock()
	run.reaped = true
	run.mu.Unlock()

	err := run.cmd.Wait()
	close(run.exited)
	log.WithFields(logrus.Fields{
		"ifname": m.ifname,
		"pid":    run.cmd.Process.Pid,
	}).WithError(err).Debug("Sampler reaped")
}

func (m *Monitor) read(run *samplerRun) {
	defer close(run.readerDone)
	defer run.closePipe()

	entry := log.WithFields(logrus.Fields{
		"ifname": m.ifname,
		"pid":    run.cmd.Process.Pid,
	})

	reader := bufio.NewReaderSize(run.pipe, 4096)
	var buf []byte
	var readErr error
	for {
		line, err := readLine(reader, buf)
		if errors.Is(err, errLineTooLong) {
			m.metrics.parseError(m.ifname)
			entry.Debug("Discarding over-long sampler line")
			continue
		}
		if len(line) > 0 {
			buf = line
			m.consume(entry, line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	m.mu.Lock()
	stopping := m.state == StateStopping
	if m.run == run && m.running {
		m.running = false
		m.metrics.samplerExited("eof")
		if m.state == StateRunning {
			m.state = StateStopped
		}
	}
	m.mu.Unlock()

	if stopping {
		entry.Debug("Reader stopped")
		return
	}

	// Output ended without a stop request; make sure the process goes too.
	run.signal(unix.SIGTERM)
	if readErr != nil {
		entry.WithError(readErr).Warn("Sampler output failed")
	} else {
		entry.Warn("Sampler output ended")
	}
}

func (m *Monitor) consume(entry *logrus.Entry, line []byte) {
	sample, err := ParseLine(line)
	if err != nil {
		m.metrics.parseError(m.ifname)
		entry.WithError(err).Debug("Discarding sampler line")
		return
	}

	now := time.Now()
	m.mu.Lock()
	m.latest = sample
	m.lastUpdate = now
	m.mu.Unlock()
	m.metrics.observe(m.ifname, sample, now)
}

// readLine returns the next newline-terminated line, reusing buf. A line
// longer than maxLineSize is drained and reported as errLineTooLong.
func readLine(r *bufio.Reader, buf []byte) ([]byte, error) {
	buf = buf[:0]
	tooLong := false
	for {
		frag, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(frag) > maxLineSize {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			if err == nil {
				return nil, errLineTooLong
			}
			return nil, err
		}
		return buf, err
	}
}

// Stop terminates the sampler, closes its pipe and waits for the reader. It
// is a no-op once the monitor is stopped and its resources are released.
// The wait is bounded by the sampler stop timeout and ctx; exceeding it
// returns ErrJoinTimeout.
func (m *Monitor) Stop(ctx context.Context) error {
	m.life.Lock()
	defer m.life.Unlock()

	m.mu.Lock()
	run := m.run
	if run == nil {
		m.state = StateStopped
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	m.mu.Unlock()

	err := m.terminate(ctx, run)

	m.mu.Lock()
	if m.running {
		m.running = false
		m.metrics.samplerExited("stopped")
	}
	m.state = StateStopped
	m.pid = 0
	m.run = nil
	m.mu.Unlock()

	return err
}

func (m *Monitor) terminate(ctx context.Context, run *samplerRun) error {
	timeout := m.sampler.stopTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entry := log.WithFields(logrus.Fields{
		"ifname": m.ifname,
		"pid":    run.cmd.Process.Pid,
	})

	run.signal(unix.SIGTERM)
	run.closePipe()

	select {
	case <-run.readerDone:
	case <-ctx.Done():
		m.metrics.samplerTimedOut()
		entry.Error("Reader did not exit after pipe close, leaking monitor resources")
		return fmt.Errorf("%w: reader for %s: %v", ErrJoinTimeout, m.ifname, ctx.Err())
	}

	grace := time.NewTimer(timeout / 2)
	defer grace.Stop()
	select {
	case <-run.exited:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	entry.Warn("Sampler ignored SIGTERM, sending SIGKILL")
	run.signal(unix.SIGKILL)

	kill := time.NewTimer(timeout / 2)
	defer kill.Stop()
	select {
	case <-run.exited:
		return nil
	case <-kill.C:
		m.metrics.samplerTimedOut()
		entry.Error("Sampler survived SIGKILL, process leaked")
		return fmt.Errorf("%w: sampler for %s (pid %d) not reaped", ErrJoinTimeout, m.ifname, run.cmd.Process.Pid)
	}
}

// Latest returns a copy of the most recent sample and the time it was
// parsed. The sample stays available after the sampler exits.
func (m *Monitor) Latest() (models.StatsSample, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.lastUpdate
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pid returns the sampler process id, 0 when not running.
func (m *Monitor) Pid() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return 0
	}
	return m.pid
}
