package taxonomy

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadDefaultRegistry(t *testing.T) {
	tax, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tax.L1Topics()) == 0 {
		t.Fatal("expected the embedded registry to carry at least one L1 topic")
	}
	if tax.Version() == "" {
		t.Error("expected a non-empty version string")
	}
}

func TestLoadExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	doc := `{
		"version": "test-1",
		"topics": [
			{"name": "Sports", "fine_topics": ["Football", "Basketball"]},
			{"name": "Politics", "fine_topics": ["Elections"]}
		]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tax, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tax.Version() != "test-1" {
		t.Errorf("Version() = %q, want %q", tax.Version(), "test-1")
	}
	want := []string{"Sports", "Politics"}
	if !reflect.DeepEqual(tax.L1Topics(), want) {
		t.Errorf("L1Topics() = %v, want %v", tax.L1Topics(), want)
	}
}

func TestLoadMissingPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json")); err == nil {
		t.Error("expected error loading a nonexistent registry path")
	}
}

func TestLoadEmptyTopicsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	if err := os.WriteFile(path, []byte(`{"version":"v1","topics":[]}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error loading a registry with no topics")
	}
}

func newTestTaxonomy(t *testing.T) *Taxonomy {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	doc := `{
		"version": "test-1",
		"topics": [
			{"name": "Sports", "fine_topics": ["Football", "Basketball"]},
			{"name": "Politics", "fine_topics": ["Elections"]}
		]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	tax, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return tax
}

func TestIsValidL1(t *testing.T) {
	tax := newTestTaxonomy(t)
	if !tax.IsValidL1("Sports") {
		t.Error("expected Sports to be a valid L1 topic")
	}
	if tax.IsValidL1("Weather") {
		t.Error("expected Weather to be invalid")
	}
}

func TestL2Topics(t *testing.T) {
	tax := newTestTaxonomy(t)
	got := tax.L2Topics("Sports")
	want := []string{"Football", "Basketball"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("L2Topics(Sports) = %v, want %v", got, want)
	}
	if got := tax.L2Topics("NotATopic"); got != nil {
		t.Errorf("L2Topics(unknown) = %v, want nil", got)
	}
}

func TestFilterValidL2PreservesCandidateOrder(t *testing.T) {
	tax := newTestTaxonomy(t)
	got := tax.FilterValidL2("Sports", []string{"Basketball", "Soccer", "Football"})
	want := []string{"Basketball", "Football"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FilterValidL2() = %v, want %v", got, want)
	}
}

func TestFilterValidL2UnknownL1Topic(t *testing.T) {
	tax := newTestTaxonomy(t)
	if got := tax.FilterValidL2("NotATopic", []string{"Football"}); got != nil {
		t.Errorf("FilterValidL2(unknown L1) = %v, want nil", got)
	}
}
