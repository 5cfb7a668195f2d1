package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBaseImage is used by synthesized descriptors when the configuration
// does not override it.
const DefaultBaseImage = "python:3.11-slim"

// SynthesizeDescriptor derives a minimal build descriptor from the workspace
// contents: install the dependency manifest when one is present, then launch
// the entry-point file. Pure function of the workspace record, so it is
// testable without touching the isolation layer.
func SynthesizeDescriptor(w *Workspace, baseImage string) string {
	if baseImage == "" {
		baseImage = DefaultBaseImage
	}

	lines := []string{
		"FROM " + baseImage,
		"WORKDIR /app",
	}
	switch {
	case w.HasRequirements:
		lines = append(lines,
			"COPY requirements.txt ./",
			"RUN pip install --no-cache-dir -r requirements.txt",
		)
	case w.HasPyProject:
		lines = append(lines,
			"COPY pyproject.toml ./",
			"RUN pip install --no-cache-dir .",
		)
	default:
		lines = append(lines, "# no dependency manifest detected")
	}
	lines = append(lines,
		"COPY . .",
		fmt.Sprintf("CMD [\"python\", %q]", w.EntryPoint),
	)
	return strings.Join(lines, "\n") + "\n"
}

// EnsureDescriptor makes sure the workspace carries a build descriptor,
// writing a synthesized one when the submission did not include its own.
// Reports whether a descriptor was synthesized.
func EnsureDescriptor(w *Workspace, baseImage string) (bool, error) {
	if w.HasDescriptor {
		return false, nil
	}

	descriptor := SynthesizeDescriptor(w, baseImage)
	path := filepath.Join(w.Path, DescriptorFile)
	if err := os.WriteFile(path, []byte(descriptor), 0o644); err != nil {
		return false, fmt.Errorf("%w: %v", ErrDescriptorSynthesis, err)
	}
	w.HasDescriptor = true
	return true, nil
}
