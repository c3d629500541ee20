// Package schedule rotates QA runs through every combination of device,
// network, locale, and persona on a fixed interval.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinel/internal/orchestrate"
)

var (
	ErrNotFound       = errors.New("schedule: not found")
	ErrAlreadyRunning = errors.New("schedule: already running")
)

const defaultIntervalMinutes = 30

// Trigger launches one run detached and returns its id immediately. The
// manager only paces the rotation; it never waits on a run and stopping a
// schedule must not reach runs already triggered.
type Trigger func(req orchestrate.RunRequest) (string, error)

// Schedule is the rotation definition.
type Schedule struct {
	ID              string   `json:"id"`
	ProjectID       string   `json:"project_id"`
	Name            string   `json:"name"`
	TargetURL       string   `json:"target_url"`
	Task            string   `json:"task"`
	Devices         []string `json:"devices"`
	Networks        []string `json:"networks"`
	Locales         []string `json:"locales"`
	Personas        []string `json:"personas"`
	IntervalMinutes int      `json:"interval_minutes"`
}

func (s Schedule) interval() time.Duration {
	m := s.IntervalMinutes
	if m <= 0 {
		m = defaultIntervalMinutes
	}
	return time.Duration(m) * time.Minute
}

// Combo is one rotation position.
type Combo struct {
	DeviceID  string `json:"device_id"`
	NetworkID string `json:"network_id"`
	Locale    string `json:"locale"`
	Persona   string `json:"persona"`
}

// Combinations expands the cartesian product with the device varying
// slowest, so a full device pass happens before the rotation moves on.
func Combinations(s Schedule) []Combo {
	var combos []Combo
	for _, d := range s.Devices {
		for _, n := range s.Networks {
			for _, l := range s.Locales {
				for _, p := range s.Personas {
					combos = append(combos, Combo{DeviceID: d, NetworkID: n, Locale: l, Persona: p})
				}
			}
		}
	}
	return combos
}

// Status is a point-in-time snapshot of one schedule.
type Status struct {
	Schedule
	Running      bool      `json:"running"`
	Cursor       int       `json:"cursor"`
	Combinations int       `json:"combinations"`
	RunCount     int       `json:"run_count"`
	LastRunID    string    `json:"last_run_id,omitempty"`
	LastRunAt    time.Time `json:"last_run_at,omitempty"`
}

type state struct {
	schedule  Schedule
	running   bool
	cursor    int
	runCount  int
	lastRunID string
	lastRunAt time.Time
}

// Manager owns schedule state and the rotation goroutines.
type Manager struct {
	mu      sync.Mutex
	states  map[string]*state
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	trigger Trigger
	logger  *zap.Logger

	// sleep waits between rotation steps; swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewManager(trigger Trigger, logger *zap.Logger) *Manager {
	return &Manager{
		states:  make(map[string]*state),
		cancels: make(map[string]context.CancelFunc),
		trigger: trigger,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Create registers a schedule without starting it. Missing locales and
// personas fall back to a single default slot so devices times networks
// still produces a rotation.
func (m *Manager) Create(s Schedule) Schedule {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if len(s.Locales) == 0 {
		s.Locales = []string{"en-US"}
	}
	if len(s.Personas) == 0 {
		s.Personas = []string{""}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.ID] = &state{schedule: s}
	m.logger.Info("schedule created",
		zap.String("schedule_id", s.ID),
		zap.String("name", s.Name),
		zap.Int("combinations", len(Combinations(s))))
	return s
}

// Start launches the rotation goroutine for a registered schedule.
func (m *Manager) Start(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return ErrNotFound
	}
	if st.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	st.running = true
	m.cancels[id] = cancel
	m.wg.Add(1)
	go m.rotate(ctx, id)
	m.logger.Info("schedule started", zap.String("schedule_id", id))
	return nil
}

// Stop cancels the rotation goroutine. In-flight runs are unaffected.
// Stopping an unknown or already stopped schedule is a no-op.
func (m *Manager) Stop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(id)
}

func (m *Manager) stopLocked(id string) {
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	if st, ok := m.states[id]; ok && st.running {
		st.running = false
		m.logger.Info("schedule stopped", zap.String("schedule_id", id))
	}
}

// Delete stops and removes a schedule.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[id]; !ok {
		return ErrNotFound
	}
	m.stopLocked(id)
	delete(m.states, id)
	return nil
}

// Get returns a snapshot of one schedule.
func (m *Manager) Get(id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return Status{}, ErrNotFound
	}
	return st.snapshot(), nil
}

// List returns snapshots of every registered schedule.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st.snapshot())
	}
	return out
}

// ActiveCount reports how many schedules are currently rotating.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, st := range m.states {
		if st.running {
			n++
		}
	}
	return n
}

// Shutdown stops every schedule and waits for the rotation goroutines.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for id := range m.states {
		m.stopLocked(id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (st *state) snapshot() Status {
	return Status{
		Schedule:     st.schedule,
		Running:      st.running,
		Cursor:       st.cursor,
		Combinations: len(Combinations(st.schedule)),
		RunCount:     st.runCount,
		LastRunID:    st.lastRunID,
		LastRunAt:    st.lastRunAt,
	}
}

func (m *Manager) rotate(ctx context.Context, id string) {
	defer m.wg.Done()

	m.mu.Lock()
	st, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	sched := st.schedule
	combos := Combinations(sched)
	m.mu.Unlock()

	// An empty product leaves the schedule registered but inert.
	if len(combos) == 0 {
		m.logger.Warn("schedule has no combinations, rotation exits",
			zap.String("schedule_id", id))
		m.mu.Lock()
		m.stopLocked(id)
		m.mu.Unlock()
		return
	}

	for {
		m.mu.Lock()
		st, ok := m.states[id]
		if !ok || !st.running {
			m.mu.Unlock()
			return
		}
		combo := combos[st.cursor%len(combos)]
		st.cursor = (st.cursor + 1) % len(combos)
		m.mu.Unlock()

		runID, err := m.trigger(orchestrate.RunRequest{
			ProjectID:   sched.ProjectID,
			DeviceID:    combo.DeviceID,
			NetworkID:   combo.NetworkID,
			Locale:      combo.Locale,
			Persona:     combo.Persona,
			TargetURL:   sched.TargetURL,
			Task:        sched.Task,
			TriggeredBy: "schedule",
		})
		if err != nil {
			// A failed trigger does not stop the rotation and is not
			// counted as a run.
			m.logger.Error("scheduled run trigger failed",
				zap.String("schedule_id", id),
				zap.String("device", combo.DeviceID),
				zap.String("network", combo.NetworkID),
				zap.Error(err))
		} else {
			m.mu.Lock()
			if st, ok := m.states[id]; ok {
				st.runCount++
				st.lastRunAt = time.Now().UTC()
				if runID != "" {
					st.lastRunID = runID
				}
			}
			m.mu.Unlock()
		}

		if !m.sleep(ctx, sched.interval()) {
			return
		}
	}
}
