// Package mock provides an in-memory sessionstore.Store for tests and demos.
//
// The store keeps real session data, so it can stand in for a backend in
// end-to-end tests, and it records every call. Exported *Err fields inject
// failures; all access is guarded by a mutex.
//
//	store := mock.New()
//	store.SaveAnswerErr = errors.New("backend down")
//	// ... run the system under test ...
//	if n := store.CallCount("SaveAnswer"); n != 1 { ... }
package mock

import (
	"context"
	"maps"
	"strconv"
	"sync"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore"
)

var _ sessionstore.Store = (*Store)(nil)

// Call records one method invocation.
type Call struct {
	Method string

	// Args holds the non-context arguments in order.
	Args []any
}

// Session is the stored state of one session.
type Session struct {
	TenantID   string
	Collected  map[string]any
	Transcript []string
	Finalized  bool
}

// Store is an in-memory session store.
type Store struct {
	mu       sync.Mutex
	calls    []Call
	sessions map[string]*Session
	next     int

	CreateErr     error
	SaveAnswerErr error
	GetErr        error
	AppendErr     error
	FinalizeErr   error
	PingErr       error

	// OnSave, when set, runs inside SaveAnswer before the value is stored
	// and without the lock held. Tests use it to block or slow writes.
	OnSave func(ctx context.Context, sessionID, field string) error
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: map[string]*Session{}}
}

func (s *Store) record(method string, args ...any) {
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

// CreateSession implements sessionstore.Store.
func (s *Store) CreateSession(_ context.Context, tenantID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("CreateSession", tenantID)
	if s.CreateErr != nil {
		return "", s.CreateErr
	}
	s.next++
	id := "mock-session-" + strconv.Itoa(s.next)
	s.sessions[id] = &Session{TenantID: tenantID, Collected: map[string]any{}}
	return id, nil
}

// SaveAnswer implements sessionstore.Store. Unknown session IDs are created
// on first save so locally generated IDs work.
func (s *Store) SaveAnswer(ctx context.Context, id, field string, value any) error {
	s.mu.Lock()
	s.record("SaveAnswer", id, field, value)
	hook, err := s.OnSave, s.SaveAnswerErr
	s.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx, id, field); herr != nil {
			return herr
		}
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(id).Collected[field] = value
	return nil
}

// GetCollectedData implements sessionstore.Store.
func (s *Store) GetCollectedData(_ context.Context, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetCollectedData", id)
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sessionstore.ErrNotFound
	}
	return maps.Clone(sess.Collected), nil
}

// AppendTranscript implements sessionstore.Store.
func (s *Store) AppendTranscript(_ context.Context, id, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("AppendTranscript", id, line)
	if s.AppendErr != nil {
		return s.AppendErr
	}
	sess := s.session(id)
	sess.Transcript = append(sess.Transcript, line)
	return nil
}

// FinalizeSession implements sessionstore.Store.
func (s *Store) FinalizeSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("FinalizeSession", id)
	if s.FinalizeErr != nil {
		return s.FinalizeErr
	}
	sess, ok := s.sessions[id]
	if !ok {
		return sessionstore.ErrNotFound
	}
	sess.Finalized = true
	return nil
}

// Ping implements sessionstore.Pinger.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// session returns the session for id, creating it if needed. Callers hold mu.
func (s *Store) session(id string) *Session {
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{Collected: map[string]any{}}
		s.sessions[id] = sess
	}
	return sess
}

// Session returns a copy of the stored session and whether it exists.
func (s *Store) Session(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	out := *sess
	out.Collected = maps.Clone(sess.Collected)
	out.Transcript = append([]string(nil), sess.Transcript...)
	return out, true
}

// Calls returns a copy of every recorded call.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
