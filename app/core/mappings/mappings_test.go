package mappings

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "client_mappings.json"))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	m := testStore(t).Load()
	if len(m.EmailDomains) != 0 || len(m.GrainMatches) != 0 {
		t.Fatalf("expected empty table, got %+v", m)
	}
}

func TestSaveEmailRuleRoundTrip(t *testing.T) {
	s := testStore(t)
	rule := EmailRule{Domains: []string{"acme.com"}, Keywords: []string{"acme", "rebrand"}}
	if err := s.SaveEmailRule("Acme", rule); err != nil {
		t.Fatalf("SaveEmailRule: %v", err)
	}

	got, ok := s.EmailRuleFor("Acme")
	if !ok {
		t.Fatal("rule not found after save")
	}
	if !reflect.DeepEqual(got, rule) {
		t.Fatalf("rule = %+v, want %+v", got, rule)
	}
	if _, ok := s.EmailRuleFor("DCC"); ok {
		t.Fatal("unexpected rule for unmapped client")
	}
}

func TestSaveGrainMatchAccumulates(t *testing.T) {
	s := testStore(t)
	if err := s.SaveGrainMatch("rec-1", "Acme"); err != nil {
		t.Fatalf("SaveGrainMatch: %v", err)
	}
	if err := s.SaveGrainMatch("rec-2", "DCC"); err != nil {
		t.Fatalf("SaveGrainMatch: %v", err)
	}

	m := s.Load()
	want := map[string]string{"rec-1": "Acme", "rec-2": "DCC"}
	if !reflect.DeepEqual(m.GrainMatches, want) {
		t.Fatalf("grain matches = %v, want %v", m.GrainMatches, want)
	}
}

func TestSaveRejectsEmptyKeys(t *testing.T) {
	s := testStore(t)
	if err := s.SaveEmailRule("  ", EmailRule{}); err == nil {
		t.Fatal("expected error for blank client")
	}
	if err := s.SaveGrainMatch("", "Acme"); err == nil {
		t.Fatal("expected error for blank recording id")
	}
}

func TestLoadCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client_mappings.json")
	if err := os.WriteFile(path, []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	m := NewStore(path).Load()
	if len(m.EmailDomains) != 0 || len(m.GrainMatches) != 0 {
		t.Fatalf("expected empty table for corrupt file, got %+v", m)
	}
}
