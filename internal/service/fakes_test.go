package service

import (
	"context"
	"sync"

	"github.com/Laisky/errors/v2"

	"github.com/jask/focusguard/internal/llm"
)

type fakeOracle struct {
	mu    sync.Mutex
	calls []llm.Request
	// judge, when set, answers instead of verdict/err.
	judge   func(ctx context.Context, req llm.Request) (llm.Verdict, error)
	verdict llm.Verdict
	err     error
}

func (f *fakeOracle) Judge(ctx context.Context, req llm.Request) (llm.Verdict, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	judge := f.judge
	f.mu.Unlock()
	if judge != nil {
		return judge(ctx, req)
	}
	return f.verdict, f.err
}

func (f *fakeOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memStore struct {
	mu      sync.Mutex
	entries []string
	saves   int
	failing bool
	// when set, Save signals entered and then waits for release
	entered chan struct{}
	release chan struct{}
}

func (m *memStore) Load(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.entries...), nil
}

func (m *memStore) Save(ctx context.Context, entries []string) error {
	if m.release != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("disk full")
	}
	m.saves++
	m.entries = append([]string(nil), entries...)
	return nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func links(urls ...string) []llm.Link {
	out := make([]llm.Link, 0, len(urls))
	for _, u := range urls {
		out = append(out, llm.Link{Title: "title " + u, URL: u, Snippet: "snippet"})
	}
	return out
}

func fakeVerdict() *fakeOracle {
	return &fakeOracle{verdict: llm.Verdict{IsValid: true, Reason: "ok", SuggestedLinks: links("https://a.edu")}}
}
