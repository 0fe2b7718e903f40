package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/jask/focusguard/internal/filter"
	"github.com/jask/focusguard/internal/llm"
	"github.com/jask/focusguard/internal/policy"
	"github.com/jask/focusguard/internal/session"
)

func newSearch(oracle llm.Oracle, store HistoryStore) *SearchService {
	return &SearchService{
		Oracle:  oracle,
		Filter:  filter.New(nil, nil),
		History: NewLedger(store),
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestSearchClassifiesInOracleOrder(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{verdict: llm.Verdict{
		IsValid:        true,
		Reason:         "Relevant.",
		SuggestedLinks: links("https://www.nasa.gov/a", "https://www.youtube.com/watch?v=1", "https://www.youtube.com/learning/x", "https://site.xxx"),
	}}
	store := &memStore{}
	svc := newSearch(oracle, store)
	rec := &recorder{}
	svc.Subscribe(rec.add)

	out, err := svc.Search(context.Background(), "  orbital mechanics  ", policy.RoleStudent)
	require.NoError(t, err)
	require.Equal(t, "orbital mechanics", out.Query)
	require.Equal(t, "Relevant.", out.Reason)
	require.Len(t, out.Results, 4)

	require.True(t, out.Results[0].Trusted)
	require.False(t, out.Results[0].Blocked)
	require.True(t, out.Results[1].Blocked)
	require.Equal(t, filter.BlockReason, out.Results[1].BlockReason)
	require.False(t, out.Results[2].Blocked)
	require.True(t, out.Results[3].Blocked)

	require.Equal(t, []string{"orbital mechanics"}, store.entries)
	require.Equal(t, "orbital mechanics", oracle.calls[0].Query)
	require.Equal(t, []EventKind{EventStarted, EventClassified}, rec.kinds())

	cur, ok := svc.Current()
	require.True(t, ok)
	require.Equal(t, out.Seq, cur.Seq)
}

func TestSearchWhitespaceIsInvalidInput(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{}
	store := &memStore{entries: []string{"prior"}}
	svc := newSearch(oracle, store)
	require.NoError(t, svc.History.Load(context.Background()))

	_, err := svc.Search(context.Background(), "  ", policy.RoleStudent)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, oracle.callCount())
	require.Zero(t, store.saveCount())
	require.Equal(t, []string{"prior"}, svc.History.Entries())
}

func TestSearchUnsetRoleIsInvalidInput(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{}
	svc := newSearch(oracle, &memStore{})
	_, err := svc.Search(context.Background(), "algebra", policy.RoleUnset)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, oracle.callCount())
}

func TestRepeatedSearchKeepsOneHistoryEntry(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{verdict: llm.Verdict{IsValid: true, Reason: "ok", SuggestedLinks: links("https://a.edu")}}
	store := &memStore{}
	svc := newSearch(oracle, store)

	_, err := svc.Search(context.Background(), "thermodynamics", policy.RoleResearcher)
	require.NoError(t, err)
	_, err = svc.Search(context.Background(), "entropy", policy.RoleResearcher)
	require.NoError(t, err)
	_, err = svc.Search(context.Background(), " thermodynamics", policy.RoleResearcher)
	require.NoError(t, err)

	require.Equal(t, []string{"thermodynamics", "entropy"}, store.entries)
	require.Equal(t, 3, store.saveCount())
}

func TestRejectedQueryLeavesHistory(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{verdict: llm.Verdict{IsValid: false, Reason: "Celebrity news is not part of teaching work."}}
	store := &memStore{}
	svc := newSearch(oracle, store)
	rec := &recorder{}
	svc.Subscribe(rec.add)

	_, err := svc.Search(context.Background(), "celebrity news", policy.RoleTeacher)
	require.ErrorIs(t, err, ErrRejectedByOracle)
	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	require.Equal(t, "Celebrity news is not part of teaching work.", rej.Reason)
	require.Zero(t, store.saveCount())
	require.Equal(t, []EventKind{EventStarted, EventFailed}, rec.kinds())
	_, ok := svc.Current()
	require.False(t, ok)
}

func TestMalformedResponseKeepsPriorResults(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{verdict: llm.Verdict{IsValid: true, Reason: "ok", SuggestedLinks: links("https://a.edu")}}
	store := &memStore{}
	svc := newSearch(oracle, store)

	first, err := svc.Search(context.Background(), "first", policy.RoleStudent)
	require.NoError(t, err)

	oracle.mu.Lock()
	oracle.err = errors.Wrap(llm.ErrMalformedResponse, "suggestedLinks missing")
	oracle.mu.Unlock()

	_, err = svc.Search(context.Background(), "second", policy.RoleStudent)
	require.ErrorIs(t, err, ErrMalformedOracleResponse)

	cur, ok := svc.Current()
	require.True(t, ok)
	require.Equal(t, first.Seq, cur.Seq)
	require.Equal(t, "first", cur.Query)
	require.Equal(t, []string{"first"}, store.entries)
	require.Equal(t, 1, store.saveCount())
}

func TestOracleFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{err: context.DeadlineExceeded}
	svc := newSearch(oracle, &memStore{})
	_, err := svc.Search(context.Background(), "q", policy.RoleStudent)
	require.ErrorIs(t, err, ErrOracleUnavailable)
	require.Equal(t, 1, oracle.callCount())
}

func TestNewerSearchSupersedesInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	oracle := &fakeOracle{judge: func(ctx context.Context, req llm.Request) (llm.Verdict, error) {
		if req.Query == "slow" {
			started <- struct{}{}
			<-release
			return llm.Verdict{IsValid: true, Reason: "slow", SuggestedLinks: links("https://slow.org")}, nil
		}
		return llm.Verdict{IsValid: true, Reason: "fast", SuggestedLinks: links("https://fast.org")}, nil
	}}
	store := &memStore{}
	svc := newSearch(oracle, store)
	rec := &recorder{}
	svc.Subscribe(rec.add)

	slowErr := make(chan error, 1)
	go func() {
		_, err := svc.Search(context.Background(), "slow", policy.RoleResearcher)
		slowErr <- err
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("slow search never reached the oracle")
	}

	out, err := svc.Search(context.Background(), "fast", policy.RoleResearcher)
	require.NoError(t, err)
	require.Equal(t, "fast", out.Query)

	close(release)
	require.ErrorIs(t, <-slowErr, ErrSuperseded)

	cur, ok := svc.Current()
	require.True(t, ok)
	require.Equal(t, "fast", cur.Query)
	require.Equal(t, []string{"fast"}, store.entries)
	require.Equal(t, []EventKind{EventStarted, EventStarted, EventClassified}, rec.kinds())
}

func TestSlowHistoryWriteDoesNotBlockNewerSearch(t *testing.T) {
	t.Parallel()

	store := &memStore{entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := newSearch(fakeVerdict(), store)

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Search(context.Background(), "first", policy.RoleStudent)
		firstErr <- err
	}()
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first search never wrote history")
	}

	current := make(chan Outcome, 1)
	go func() {
		cur, _ := svc.Current()
		current <- cur
	}()
	select {
	case cur := <-current:
		require.Equal(t, "first", cur.Query)
	case <-time.After(2 * time.Second):
		t.Fatal("Current blocked behind the history write")
	}

	secondErr := make(chan error, 1)
	go func() {
		_, err := svc.Search(context.Background(), "second", policy.RoleStudent)
		secondErr <- err
	}()
	require.Eventually(t, func() bool {
		cur, ok := svc.Current()
		return ok && cur.Query == "second"
	}, 2*time.Second, 5*time.Millisecond)

	close(store.release)
	require.NoError(t, <-firstErr)
	require.NoError(t, <-secondErr)
	require.Equal(t, []string{"second", "first"}, svc.History.Entries())
	require.Equal(t, 2, store.saveCount())
}

func TestSearchGatedOnLockedSession(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{verdict: llm.Verdict{IsValid: true, Reason: "ok", SuggestedLinks: links("https://a.edu")}}
	m := session.New("ana", nil)
	svc := newSearch(oracle, &memStore{})
	svc.Session = m

	_, err := svc.Search(context.Background(), "q", policy.RoleStudent)
	require.ErrorIs(t, err, ErrNotLocked)

	_, err = m.Start(60)
	require.NoError(t, err)
	_, err = svc.Search(context.Background(), "q", policy.RoleStudent)
	require.NoError(t, err)
	require.Equal(t, 1, oracle.callCount())
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{verdict: llm.Verdict{IsValid: true, Reason: "ok", SuggestedLinks: links("https://a.edu")}}
	svc := newSearch(oracle, nil)
	a, b := &recorder{}, &recorder{}
	cancelA := svc.Subscribe(a.add)
	svc.Subscribe(b.add)

	_, err := svc.Search(context.Background(), "q", policy.RoleStudent)
	require.NoError(t, err)
	cancelA()
	_, err = svc.Search(context.Background(), "q2", policy.RoleStudent)
	require.NoError(t, err)

	require.Len(t, a.kinds(), 2)
	require.Len(t, b.kinds(), 4)
}
