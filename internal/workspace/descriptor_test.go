package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSynthesizeDescriptorWithRequirements(t *testing.T) {
	ws := &Workspace{EntryPoint: "main.py", HasRequirements: true}

	descriptor := SynthesizeDescriptor(ws, "")

	if !strings.HasPrefix(descriptor, "FROM "+DefaultBaseImage) {
		t.Fatalf("unexpected base image:\n%s", descriptor)
	}
	if !strings.Contains(descriptor, "pip install --no-cache-dir -r requirements.txt") {
		t.Fatalf("expected requirements install:\n%s", descriptor)
	}
	if !strings.Contains(descriptor, `CMD ["python", "main.py"]`) {
		t.Fatalf("expected entry-point command:\n%s", descriptor)
	}
}

func TestSynthesizeDescriptorWithPyProject(t *testing.T) {
	ws := &Workspace{EntryPoint: "main.py", HasPyProject: true}

	descriptor := SynthesizeDescriptor(ws, "python:3.12-slim")

	if !strings.HasPrefix(descriptor, "FROM python:3.12-slim") {
		t.Fatalf("expected overridden base image:\n%s", descriptor)
	}
	if !strings.Contains(descriptor, "COPY pyproject.toml ./") {
		t.Fatalf("expected pyproject install:\n%s", descriptor)
	}
}

func TestSynthesizeDescriptorWithoutManifest(t *testing.T) {
	ws := &Workspace{EntryPoint: "bot.py"}

	descriptor := SynthesizeDescriptor(ws, "")

	if strings.Contains(descriptor, "pip install") {
		t.Fatalf("did not expect an install step:\n%s", descriptor)
	}
	if !strings.Contains(descriptor, `CMD ["python", "bot.py"]`) {
		t.Fatalf("expected custom entry point:\n%s", descriptor)
	}
}

func TestEnsureDescriptorWritesFile(t *testing.T) {
	dir := t.TempDir()
	ws := &Workspace{Path: dir, DeploymentName: "alpha", EntryPoint: "main.py", HasRequirements: true}

	synthesized, err := EnsureDescriptor(ws, "")
	if err != nil {
		t.Fatalf("ensure descriptor: %v", err)
	}
	if !synthesized {
		t.Fatal("expected descriptor to be synthesized")
	}
	if !ws.HasDescriptor {
		t.Fatal("expected HasDescriptor to flip")
	}

	data, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	if !strings.Contains(string(data), "requirements.txt") {
		t.Fatalf("descriptor missing manifest reference:\n%s", data)
	}
}

func TestEnsureDescriptorKeepsSubmittedOne(t *testing.T) {
	dir := t.TempDir()
	original := "FROM scratch\n"
	if err := os.WriteFile(filepath.Join(dir, DescriptorFile), []byte(original), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	ws := &Workspace{Path: dir, EntryPoint: "main.py", HasDescriptor: true}

	synthesized, err := EnsureDescriptor(ws, "")
	if err != nil {
		t.Fatalf("ensure descriptor: %v", err)
	}
	if synthesized {
		t.Fatal("must not overwrite a submitted descriptor")
	}

	data, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	if string(data) != original {
		t.Fatalf("descriptor changed: %q", data)
	}
}
