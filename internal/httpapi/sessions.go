package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/printer"
	"ragefit/pos/internal/printq"
	"ragefit/pos/internal/service"
)

var errSessionExpired = errors.New("session expired, log in again")

// QueueFactory builds the print queue for a new session, restoring any
// journaled jobs.
type QueueFactory func(ctx context.Context) (*printq.Queue, error)

// sessionManager keeps register sessions keyed by token id. The register
// has one drawer and one printer, so opening a session closes any other.
type sessionManager struct {
	mu       sync.Mutex
	engine   *service.Engine
	newQueue QueueFactory
	printer  printer.Connector
	sessions map[string]*service.Session
	log      zerolog.Logger
}

func newSessionManager(engine *service.Engine, newQueue QueueFactory, connector printer.Connector, log zerolog.Logger) *sessionManager {
	if newQueue == nil {
		newQueue = func(context.Context) (*printq.Queue, error) {
			return printq.New(printq.Options{Logger: log}), nil
		}
	}
	return &sessionManager{
		engine:   engine,
		newQueue: newQueue,
		printer:  connector,
		sessions: make(map[string]*service.Session),
		log:      log,
	}
}

func (m *sessionManager) open(ctx context.Context, id string, actor domain.Actor) (*service.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The previous queue must be closed and journaled before the next one
	// restores from the same journal.
	for prevID, prev := range m.sessions {
		if err := prev.Close(); err != nil {
			m.log.Warn().Err(err).Str("session_id", prevID).Msg("close replaced session")
		}
		delete(m.sessions, prevID)
		m.log.Info().Str("session_id", prevID).Str("operator", prev.Actor().Username).Msg("session replaced by new login")
	}

	queue, err := m.newQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("open print queue: %w", err)
	}
	sess := m.engine.NewSession(actor, queue)
	if m.printer != nil {
		if err := sess.ConnectPrinter(service.WithActor(ctx, actor), m.printer); err != nil {
			m.log.Warn().Err(err).Msg("printer not connected at login")
		}
	}
	m.sessions[id] = sess
	return sess, nil
}

func (m *sessionManager) get(id string) (*service.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, errSessionExpired
	}
	return sess, nil
}

func (m *sessionManager) close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return sess.Close()
}

func (m *sessionManager) closeAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*service.Session)
	m.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		errs = append(errs, sess.Close())
	}
	return errors.Join(errs...)
}

func (m *sessionManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
