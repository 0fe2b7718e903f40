package service

import (
	"context"
	"strings"
	"sync"

	"github.com/Laisky/errors/v2"
	"go.uber.org/zap"

	"github.com/jask/focusguard/internal/filter"
	"github.com/jask/focusguard/internal/llm"
	"github.com/jask/focusguard/internal/policy"
	"github.com/jask/focusguard/internal/session"
)

var (
	// ErrInvalidInput is returned before any oracle call for an empty query or unset role.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRejectedByOracle marks a query the oracle judged off-focus or unsafe.
	// The concrete error is a *RejectionError carrying the oracle's reason.
	ErrRejectedByOracle = errors.New("rejected by oracle")
	// ErrSuperseded means a newer search started before this one finished;
	// its response was dropped.
	ErrSuperseded = errors.New("search superseded by a newer query")
	// ErrNotLocked means searching is not permitted in the current session state.
	ErrNotLocked = errors.New("search is only available during a locked focus session")

	ErrOracleUnavailable       = llm.ErrOracleUnavailable
	ErrMalformedOracleResponse = llm.ErrMalformedResponse
)

// RejectionError carries the oracle's reason for refusing a query.
type RejectionError struct {
	Query  string
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return "query rejected"
	}
	return e.Reason
}

func (e *RejectionError) Is(target error) bool { return target == ErrRejectedByOracle }

// EventKind names a search lifecycle step.
type EventKind string

const (
	EventStarted    EventKind = "started"
	EventClassified EventKind = "classified"
	EventFailed     EventKind = "failed"
)

// Event is delivered to subscribers for every non-stale lifecycle step.
type Event struct {
	Kind    EventKind
	Seq     uint64
	Query   string
	Role    policy.Role
	Results []filter.Result
	Err     error
}

// Outcome is one classified result set.
type Outcome struct {
	Seq     uint64
	Query   string
	Role    policy.Role
	Reason  string
	Results []filter.Result
}

// SessionGate exposes the session state searches are gated on.
type SessionGate interface {
	Snapshot() session.Snapshot
}

// SearchService runs a query through the oracle and the content filter.
// The newest call always wins: a response that arrives after a later
// Search started is dropped without touching history or the current set.
type SearchService struct {
	Oracle  llm.Oracle
	Filter  *filter.Filter
	History *Ledger
	Session SessionGate
	Log     *zap.Logger

	mu      sync.Mutex
	seq     uint64
	current *Outcome
	subs    map[int]func(Event)
	nextSub int
	// closed once the latest committed search has written its history
	recorded chan struct{}
}

// Subscribe registers fn for lifecycle events and returns its cancel func.
func (s *SearchService) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = map[int]func(Event){}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Current returns the latest successful result set.
func (s *SearchService) Current() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Outcome{}, false
	}
	return *s.current, true
}

// Search validates query for role, asks the oracle once and classifies the
// suggested links in oracle order.
func (s *SearchService) Search(ctx context.Context, query string, role policy.Role) (Outcome, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Outcome{}, errors.Wrap(ErrInvalidInput, "query is empty")
	}
	if !role.Valid() {
		return Outcome{}, errors.Wrap(ErrInvalidInput, "choose a role before searching")
	}
	if s.Session != nil {
		if st := s.Session.Snapshot().State; st != session.StateLocked {
			return Outcome{}, errors.Wrapf(ErrNotLocked, "session is %s", st)
		}
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	log := s.logger().With(zap.Uint64("seq", seq), zap.String("role", role.String()))

	s.emit(Event{Kind: EventStarted, Seq: seq, Query: q, Role: role})

	verdict, err := s.Oracle.Judge(ctx, llm.Request{Query: q, Role: role})

	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		log.Debug("dropping stale search response")
		return Outcome{}, ErrSuperseded
	}

	if err != nil {
		s.mu.Unlock()
		if !errors.Is(err, ErrMalformedOracleResponse) && !errors.Is(err, ErrOracleUnavailable) {
			err = errors.Wrap(ErrOracleUnavailable, err.Error())
		}
		log.Warn("search failed", zap.Error(err))
		s.emit(Event{Kind: EventFailed, Seq: seq, Query: q, Role: role, Err: err})
		return Outcome{}, err
	}

	if !verdict.IsValid {
		s.mu.Unlock()
		rej := &RejectionError{Query: q, Reason: verdict.Reason}
		log.Info("query rejected by oracle", zap.String("reason", verdict.Reason))
		s.emit(Event{Kind: EventFailed, Seq: seq, Query: q, Role: role, Err: rej})
		return Outcome{}, rej
	}

	candidates := make([]filter.Candidate, 0, len(verdict.SuggestedLinks))
	for _, l := range verdict.SuggestedLinks {
		candidates = append(candidates, filter.Candidate{
			Title:        l.Title,
			URL:          l.URL,
			Snippet:      l.Snippet,
			ThumbnailURL: l.ThumbnailURL,
		})
	}
	f := s.Filter
	if f == nil {
		f = filter.New(nil, nil)
	}
	out := Outcome{
		Seq:     seq,
		Query:   q,
		Role:    role,
		Reason:  verdict.Reason,
		Results: f.ClassifyAll(candidates, q, role),
	}
	s.current = &out
	prev, done := s.recorded, make(chan struct{})
	s.recorded = done
	s.mu.Unlock()

	// history writes run outside mu, in commit order
	if prev != nil {
		<-prev
	}
	if s.History != nil {
		if herr := s.History.Record(ctx, q); herr != nil {
			log.Error("record history", zap.Error(herr))
		}
	}
	close(done)

	log.Info("search classified", zap.Int("results", len(out.Results)), zap.Int("blocked", countBlocked(out.Results)))
	s.emit(Event{Kind: EventClassified, Seq: seq, Query: q, Role: role, Results: out.Results})
	return out, nil
}

func (s *SearchService) emit(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *SearchService) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func countBlocked(rs []filter.Result) int {
	n := 0
	for _, r := range rs {
		if r.Blocked {
			n++
		}
	}
	return n
}
