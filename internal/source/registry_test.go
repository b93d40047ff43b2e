package source

import (
	"context"
	"errors"
	"testing"
)

type stubAdapter struct {
	meta Metadata
}

func (s *stubAdapter) Metadata() Metadata { return s.meta }
func (s *stubAdapter) IsRelevant(ctx context.Context, question string) (bool, error) {
	return true, nil
}
func (s *stubAdapter) GenerateQuery(ctx context.Context, question string, paramHints map[string]any) (QueryParams, error) {
	return QueryParams(`{"q":"x"}`), nil
}
func (s *stubAdapter) ExecuteSearch(ctx context.Context, params QueryParams, limit int, extractFullContent bool) (QueryResult, error) {
	return QueryResult{Success: true, SourceID: s.meta.ID}, nil
}

func stubConstructor(id string, calls *int) Constructor {
	return func() (Adapter, error) {
		if calls != nil {
			*calls++
		}
		return &stubAdapter{meta: Metadata{ID: id}}, nil
	}
}

func TestRegisterRejectsUnnormalizedID(t *testing.T) {
	var failed []RegistrationEvent
	r := NewRegistry(func(e RegistrationEvent) { failed = append(failed, e) })

	r.Register(Metadata{ID: "SAM.gov"}, true, stubConstructor("SAM.gov", nil))

	if len(failed) != 1 {
		t.Fatalf("expected 1 registration failure, got %d", len(failed))
	}
	if _, err := r.Get("SAM.gov"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected unknown source after failed registration, got %v", err)
	}
}

func TestRegistrationFailureIsIsolated(t *testing.T) {
	var failed []RegistrationEvent
	r := NewRegistry(func(e RegistrationEvent) { failed = append(failed, e) })

	r.Register(Metadata{ID: "bad one"}, true, stubConstructor("bad one", nil))
	r.Register(Metadata{ID: "good"}, true, stubConstructor("good", nil))

	if len(failed) != 1 {
		t.Fatalf("expected exactly the bad registration to fail, got %d failures", len(failed))
	}
	if _, err := r.Get("good"); err != nil {
		t.Fatalf("good source must survive a sibling's failed registration: %v", err)
	}
}

func TestRegisterFailsOnMissingAPIKeyEnv(t *testing.T) {
	t.Setenv("DOSSIER_TEST_MISSING_KEY", "")
	var failed []RegistrationEvent
	r := NewRegistry(func(e RegistrationEvent) { failed = append(failed, e) })

	r.Register(Metadata{ID: "keyed", RequiresAPIKey: true, APIKeyEnvVar: "DOSSIER_TEST_MISSING_KEY"}, true, stubConstructor("keyed", nil))

	if len(failed) != 1 {
		t.Fatalf("expected registration failure for missing key env, got %d", len(failed))
	}
}

func TestGetConstructsLazilyAndOnce(t *testing.T) {
	calls := 0
	r := NewRegistry(nil)
	r.Register(Metadata{ID: "lazy"}, true, stubConstructor("lazy", &calls))

	if calls != 0 {
		t.Fatal("constructor must not run at registration time")
	}
	if _, err := r.Get("lazy"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("lazy"); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("constructor ran %d times, want 1", calls)
	}
}

func TestGetByAlias(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Metadata{ID: "sam"}, true, stubConstructor("sam", nil))

	for _, alias := range []string{"sam", "SAM.gov", "sam_gov", "search_sam"} {
		if _, err := r.Get(alias); err != nil {
			t.Errorf("Get(%q): %v", alias, err)
		}
	}
}

func TestGetDisabledSource(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Metadata{ID: "off"}, false, stubConstructor("off", nil))

	if _, err := r.Get("off"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if metas := r.All(); len(metas) != 0 {
		t.Fatalf("All must omit disabled sources, got %d", len(metas))
	}
}

func TestExecuteSearchBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Metadata{ID: "flaky"}, true, stubConstructor("flaky", nil))

	failing := func(ctx context.Context) (QueryResult, error) {
		return QueryResult{Success: false, SourceID: "flaky", HTTPCode: 503}, nil
	}

	for i := 0; i < 3; i++ {
		qr, _ := r.ExecuteSearch(context.Background(), "flaky", failing)
		if qr.HTTPCode != 503 {
			t.Fatalf("attempt %d: expected the real 503 result through the breaker, got %+v", i, qr)
		}
	}

	called := false
	_, err := r.ExecuteSearch(context.Background(), "flaky", func(ctx context.Context) (QueryResult, error) {
		called = true
		return QueryResult{Success: true}, nil
	})
	if err == nil {
		t.Fatal("expected open-breaker error after three consecutive failures")
	}
	if called {
		t.Fatal("open breaker must not invoke the search function")
	}
}
