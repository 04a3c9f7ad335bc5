package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the connection state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session owns the browser connection for one agent run and hands it to
// executors by reference. It moves disconnected → connecting → ready on first
// use, falls back to disconnected when the driver reports itself closed, and
// reconnects on the next access. Close is terminal.
type Session struct {
	mu        sync.Mutex
	connector Connector
	driver    Driver
	state     State
	logger    Logger

	transitions []State
}

// NewSession creates a disconnected session.
func NewSession(connector Connector, logger Logger) *Session {
	return &Session{connector: connector, state: StateDisconnected, logger: logger}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transitions returns every state entered since creation, in order.
func (s *Session) Transitions() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.transitions))
	copy(out, s.transitions)
	return out
}

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	s.state = next
	s.transitions = append(s.transitions, next)
}

// Driver returns a ready driver, connecting or reconnecting as needed.
func (s *Session) Driver(ctx context.Context) (Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(ctx)
}

func (s *Session) ensureLocked(ctx context.Context) (Driver, error) {
	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}

	if s.driver != nil && s.driver.Closed() {
		if s.logger != nil {
			s.logger.LogWarn("Browser connection lost, reconnecting")
		}
		_ = s.driver.Close()
		s.driver = nil
		s.setState(StateDisconnected)
	}

	if s.state == StateReady && s.driver != nil {
		return s.driver, nil
	}

	s.setState(StateConnecting)
	driver, err := s.connector.Connect(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	s.driver = driver
	s.setState(StateReady)
	if s.logger != nil {
		s.logger.LogInfo("Browser session ready")
	}
	return driver, nil
}

// Page returns the active page. A closed page forces one reconnect before
// giving up.
func (s *Session) Page(ctx context.Context) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		driver, err := s.ensureLocked(ctx)
		if err != nil {
			return nil, err
		}
		page, err := driver.ActivePage(ctx)
		if err == nil {
			return page, nil
		}
		if !errors.Is(err, ErrPageClosed) || attempt == 1 {
			return nil, err
		}
		_ = driver.Close()
		s.driver = nil
		s.setState(StateDisconnected)
	}
	return nil, ErrPageClosed
}

// Pages lists every open tab.
func (s *Session) Pages(ctx context.Context) ([]Page, error) {
	driver, err := s.Driver(ctx)
	if err != nil {
		return nil, err
	}
	return driver.Pages(ctx)
}

// Activate makes page the target of later actions.
func (s *Session) Activate(ctx context.Context, page Page) error {
	driver, err := s.Driver(ctx)
	if err != nil {
		return err
	}
	return driver.SetActivePage(page)
}

// Close releases the driver. Further use returns ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	var err error
	if s.driver != nil {
		err = s.driver.Close()
		s.driver = nil
	}
	s.setState(StateClosed)
	return err
}
