package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/bindery/internal/layout"
)

const MockProviderName = "mock"

// MockProvider is a Provider for tests and offline runs.
type MockProvider struct {
	ProviderName string
	Latency      time.Duration
	Usage        layout.Usage

	// FailPages makes every call for the page fail with the given kind.
	FailPages map[int]ErrorKind

	// FailFirst makes the first N calls for every page fail transiently.
	FailFirst int

	// ErrFunc, if set, decides the error for a call (call counts from 1 per page).
	ErrFunc func(page layout.PageInput, call int) error

	// ResultFunc, if set, builds the successful result for a page.
	ResultFunc func(page layout.PageInput) *layout.PageAnalysis

	mu           sync.Mutex
	calls        map[int]int
	requestCount atomic.Int64
}

// NewMockProvider creates a mock provider that succeeds with one paragraph per page.
func NewMockProvider(name string) *MockProvider {
	if name == "" {
		name = MockProviderName
	}
	return &MockProvider{
		ProviderName: name,
		Usage:        layout.Usage{PromptTokens: 1000, CompletionTokens: 200},
	}
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string {
	return m.ProviderName
}

// Analyze returns a scripted result or error.
func (m *MockProvider) Analyze(ctx context.Context, page layout.PageInput) (*layout.PageAnalysis, error) {
	m.requestCount.Add(1)
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[int]int)
	}
	m.calls[page.PageNumber]++
	call := m.calls[page.PageNumber]
	m.mu.Unlock()

	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, &ProviderError{Provider: m.ProviderName, Kind: Permanent, Err: ctx.Err()}
		case <-time.After(m.Latency):
		}
	}

	if err := m.errorFor(page, call); err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			out := *pe
			if out.Provider == "" {
				out.Provider = m.ProviderName
			}
			out.Usage = m.Usage
			return nil, &out
		}
		return nil, &ProviderError{Provider: m.ProviderName, Kind: Transient, Usage: m.Usage, Err: err}
	}

	var result *layout.PageAnalysis
	if m.ResultFunc != nil {
		result = m.ResultFunc(page)
	} else {
		result = &layout.PageAnalysis{
			TextBlocks: []layout.TextBlock{{Role: layout.BlockParagraph, Text: fmt.Sprintf("Mock text for page %d", page.PageNumber)}},
		}
	}
	result.PageNumber = page.PageNumber
	result.Usage = m.Usage
	return result, nil
}

func (m *MockProvider) errorFor(page layout.PageInput, call int) error {
	if m.ErrFunc != nil {
		return m.ErrFunc(page, call)
	}
	if kind, ok := m.FailPages[page.PageNumber]; ok {
		return &ProviderError{Kind: kind, Err: fmt.Errorf("mock %s failure for page %d", kind, page.PageNumber)}
	}
	if call <= m.FailFirst {
		return &ProviderError{Kind: Transient, Err: fmt.Errorf("mock transient failure (call %d)", call)}
	}
	return nil
}

// Calls returns how many times Analyze ran for a page.
func (m *MockProvider) Calls(page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[page]
}

// RequestCount returns the total number of Analyze calls.
func (m *MockProvider) RequestCount() int64 {
	return m.requestCount.Load()
}

// Reset clears call counters.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
	m.requestCount.Store(0)
}

var _ Provider = (*MockProvider)(nil)
