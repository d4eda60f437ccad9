package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/infrastructure/logging"
)

const minimalManifest = `version: "1.0"
name: "demo"
nodes:
  - id: "begin"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "step1"
    kind: "deterministic"
    role: "linear"
  - id: "done"
    kind: "deterministic"
    role: "exit"
edges:
  - from: "begin"
    to: "step1"
  - from: "step1"
    to: "done"
`

func TestYAMLLoaderLoadSuccess(t *testing.T) {
	loader := newTestLoader()
	ctx := context.Background()

	tmpDir := t.TempDir()
	manifestPath := filepath.Join(tmpDir, "workflow.yaml")
	if err := os.WriteFile(manifestPath, []byte(minimalManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := loader.Load(ctx, manifestPath)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if m == nil {
		t.Fatal("expected manifest, got nil")
	}
	if m.Name != "demo" {
		t.Fatalf("expected name demo, got %s", m.Name)
	}
	if len(m.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(m.Nodes))
	}
}

func TestYAMLLoaderLoadMissingFile(t *testing.T) {
	loader := newTestLoader()
	ctx := context.Background()

	_, err := loader.Load(ctx, "does-not-exist.yaml")
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	assertDomainError(t, err, domain.ErrValidation)
}

func TestYAMLLoaderLoadParseError(t *testing.T) {
	loader := newTestLoader()
	ctx := context.Background()

	tmpDir := t.TempDir()
	manifestPath := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(manifestPath, []byte("version: ["), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	_, err := loader.Load(ctx, manifestPath)
	if err == nil {
		t.Fatalf("expected parse error")
	}
	assertDomainError(t, err, domain.ErrValidation)
}

func TestYAMLLoaderLoadDuplicateNodeID(t *testing.T) {
	loader := newTestLoader()
	ctx := context.Background()

	tmpDir := t.TempDir()
	manifestPath := filepath.Join(tmpDir, "invalid.yaml")
	yamlContent := `version: "1.0"
name: "demo"
nodes:
  - id: "begin"
    kind: "deterministic"
    role: "start"
    default_start: true
  - id: "begin"
    kind: "deterministic"
    role: "exit"
edges: []
`
	if err := os.WriteFile(manifestPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	_, err := loader.Load(ctx, manifestPath)
	if err == nil {
		t.Fatalf("expected duplicate-id validation error")
	}
	assertDomainError(t, err, domain.ErrValidation)
}

func TestYAMLLoaderLoadCancelled(t *testing.T) {
	loader := newTestLoader()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loader.Load(ctx, "whatever.yaml")
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	assertDomainError(t, err, domain.ErrValidation)
}

func TestYAMLLoaderValidate(t *testing.T) {
	loader := newTestLoader()
	ctx := context.Background()

	tmpDir := t.TempDir()
	manifestPath := filepath.Join(tmpDir, "workflow.yaml")
	if err := os.WriteFile(manifestPath, []byte(minimalManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	if err := loader.Validate(ctx, manifestPath); err != nil {
		t.Fatalf("expected validate success, got %v", err)
	}
}

func assertDomainError(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected *engine.Error, got %T", err)
	}
	if domainErr.Kind != kind {
		t.Fatalf("expected kind %s, got %s", kind, domainErr.Kind)
	}
}

func newTestLoader() *YAMLLoader {
	return NewYAMLLoader(logging.NewNoOpLogger())
}
