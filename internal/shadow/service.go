package shadow

import (
	"context"
	"sync"
)

// Logger defines the logging interface used by the Service.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Substate identifies which half of a shadow a mutation touched.
type Substate string

// Substate constants.
const (
	SubstateReported Substate = "reported"
	SubstateDesired  Substate = "desired"
)

// Event describes a successful shadow mutation.
//
// Shadow is a copy of the post-mutation shadow. Origin is an opaque writer
// tag (for example a WebSocket client id) that fan-out layers use to avoid
// echoing a change back to its originator; it is empty for writers with no
// live connection.
type Event struct {
	DeviceID string
	Version  int64
	Substate Substate
	Shadow   *Shadow
	Origin   string
}

// Listener receives shadow change events.
//
// Delivery is best-effort and at-least-once: listeners run synchronously
// after the mutation has been persisted, a panicking listener is absorbed
// and logged, and no listener failure can roll the mutation back.
type Listener func(Event)

// Service is the use-case facade over a shadow Repository.
//
// It translates repository absence into explicit failures, guards duplicate
// creation, exposes the delta, and raises typed change events to registered
// listeners after every successful mutation.
//
// All public methods are thread-safe.
type Service struct {
	repo Repository

	listeners  []Listener
	listenerMu sync.RWMutex

	logger Logger
}

// NewService creates a new shadow service on top of the given repository.
func NewService(repo Repository) *Service {
	return &Service{
		repo:   repo,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// AddListener registers a listener for shadow change events.
// Listeners cannot be removed; they live for the lifetime of the service.
func (s *Service) AddListener(fn Listener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

// GetDeviceShadow retrieves the shadow for a device id.
// Returns ErrNotFound if no shadow exists.
func (s *Service) GetDeviceShadow(ctx context.Context, deviceID string) (*Shadow, error) {
	return s.repo.Get(ctx, deviceID)
}

// ListShadows retrieves all shadows.
func (s *Service) ListShadows(ctx context.Context) ([]Shadow, error) {
	return s.repo.List(ctx)
}

// CreateDeviceShadow registers a device and persists its version-1 shadow
// with the given initial reported state and an empty desired state.
// Returns ErrExists if the device already has a shadow.
func (s *Service) CreateDeviceShadow(ctx context.Context, deviceID string, initialReported State) (*Shadow, error) {
	sh := NewShadow(deviceID, initialReported)
	if err := s.repo.Create(ctx, sh); err != nil {
		return nil, err
	}

	s.logger.Info("shadow created", "device_id", deviceID)
	return sh, nil
}

// UpdateReportedState overlays partial on the device's reported state.
//
// On success the change event carries origin so fan-out layers can suppress
// the originator echo. Returns ErrNotFound if no shadow exists; the failure
// leaves no persistence side effect.
func (s *Service) UpdateReportedState(ctx context.Context, deviceID string, partial State, origin string) (*Shadow, error) {
	sh, err := s.repo.UpdateReported(ctx, deviceID, partial)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("reported state updated", "device_id", deviceID, "version", sh.Version)
	s.notify(Event{
		DeviceID: deviceID,
		Version:  sh.Version,
		Substate: SubstateReported,
		Shadow:   sh.Clone(),
		Origin:   origin,
	})
	return sh, nil
}

// UpdateDesiredState overlays partial on the device's desired state.
func (s *Service) UpdateDesiredState(ctx context.Context, deviceID string, partial State, origin string) (*Shadow, error) {
	sh, err := s.repo.UpdateDesired(ctx, deviceID, partial)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("desired state updated", "device_id", deviceID, "version", sh.Version)
	s.notify(Event{
		DeviceID: deviceID,
		Version:  sh.Version,
		Substate: SubstateDesired,
		Shadow:   sh.Clone(),
		Origin:   origin,
	})
	return sh, nil
}

// ClearDesiredState resets the device's desired state after convergence.
func (s *Service) ClearDesiredState(ctx context.Context, deviceID string, origin string) (*Shadow, error) {
	sh, err := s.repo.ClearDesired(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("desired state cleared", "device_id", deviceID, "version", sh.Version)
	s.notify(Event{
		DeviceID: deviceID,
		Version:  sh.Version,
		Substate: SubstateDesired,
		Shadow:   sh.Clone(),
		Origin:   origin,
	})
	return sh, nil
}

// GetShadowDelta returns the outstanding desired-vs-reported difference.
// Returns ErrNotFound if no shadow exists.
func (s *Service) GetShadowDelta(ctx context.Context, deviceID string) (map[string]any, error) {
	return s.repo.Delta(ctx, deviceID)
}

// DeleteDeviceShadow removes the shadow for a decommissioned device.
// Returns ErrNotFound if no shadow exists.
func (s *Service) DeleteDeviceShadow(ctx context.Context, deviceID string) error {
	if err := s.repo.Delete(ctx, deviceID); err != nil {
		return err
	}
	s.logger.Info("shadow deleted", "device_id", deviceID)
	return nil
}

// notify delivers an event to every registered listener.
// A panicking listener must not take down the mutation path or starve the
// remaining listeners.
func (s *Service) notify(ev Event) {
	s.listenerMu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					s.logger.Error("shadow event listener panicked",
						"device_id", ev.DeviceID, "panic", rec)
				}
			}()
			fn(ev)
		}()
	}
}
