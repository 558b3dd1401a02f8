package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackzampolin/bindery/internal/layout"
	"github.com/jackzampolin/bindery/internal/providers"
)

type usageLog struct {
	mu     sync.Mutex
	events []providers.UsageEvent
}

func (l *usageLog) RecordUsage(ctx context.Context, ev providers.UsageEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *usageLog) count() (ok, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Success {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

func TestFactory_MissingPrimary(t *testing.T) {
	tests := []struct {
		name    string
		primary string
	}{
		{"empty", ""},
		{"unregistered", "gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactory(providers.NewRegistry(), FactoryConfig{Primary: tt.primary})
			if _, err := f.NewBatch(); !errors.Is(err, ErrNoProvider) {
				t.Fatalf("NewBatch() error = %v, want ErrNoProvider", err)
			}
		})
	}
}

func TestFactory_MissingFallbackDisablesFallback(t *testing.T) {
	primary := providers.NewMockProvider("primary")
	primary.FailPages = map[int]providers.ErrorKind{3: providers.Permanent}

	reg := providers.NewRegistry()
	reg.Register("primary", primary)

	rec := &usageLog{}
	f := NewFactory(reg, FactoryConfig{
		Primary:  "primary",
		Fallback: "missing",
		Policy:   Policy{MaxRetries: 1, FallbackEnabled: true},
		Recorder: rec,
	})
	b, err := f.NewBatch()
	if err != nil {
		t.Fatalf("NewBatch() error = %v", err)
	}

	la, err := b.Run(context.Background(), makePages(10), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := la.FailedPages(); len(got) != 1 || got[0] != 3 {
		t.Errorf("FailedPages() = %v, want [3]", got)
	}
	if la.ProviderUsed != layout.RolePrimary {
		t.Errorf("ProviderUsed = %q, want primary", la.ProviderUsed)
	}
	if ok, failed := rec.count(); ok != 9 || failed != 1 {
		t.Errorf("recorded ok=%d failed=%d, want 9 and 1", ok, failed)
	}
}

func TestFactory_UsesFallback(t *testing.T) {
	primary := providers.NewMockProvider("primary")
	primary.FailPages = map[int]providers.ErrorKind{2: providers.Transient}
	fallback := providers.NewMockProvider("fallback")

	reg := providers.NewRegistry()
	reg.Register("primary", primary)
	reg.Register("fallback", fallback)

	f := NewFactory(reg, FactoryConfig{
		Primary:  "primary",
		Fallback: "fallback",
		Policy:   Policy{MaxRetries: 1, FallbackEnabled: true},
	})
	b, err := f.NewBatch()
	if err != nil {
		t.Fatalf("NewBatch() error = %v", err)
	}

	la, err := b.Run(context.Background(), makePages(4), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if la.ProviderUsed != layout.RoleMixed {
		t.Errorf("ProviderUsed = %q, want mixed", la.ProviderUsed)
	}
	if fallback.Calls(2) != 1 {
		t.Errorf("fallback calls for page 2 = %d, want 1", fallback.Calls(2))
	}
	if fallback.RequestCount() != 1 {
		t.Errorf("fallback requests = %d, want 1", fallback.RequestCount())
	}
}

func TestFactory_PicksUpRegistryChanges(t *testing.T) {
	reg := providers.NewRegistry()
	f := NewFactory(reg, FactoryConfig{Primary: "primary"})
	if _, err := f.NewBatch(); err == nil {
		t.Fatal("NewBatch() error = nil before registration")
	}
	reg.Register("primary", providers.NewMockProvider("primary"))
	if _, err := f.NewBatch(); err != nil {
		t.Fatalf("NewBatch() error = %v after registration", err)
	}
}
