// Package archive inspects uploaded project archives before anything touches
// the filesystem. Validation is side-effect free: it either returns an
// extraction-ready handle or one of the sentinel rejection errors.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Rejection reasons surfaced verbatim to the submitter.
var (
	ErrMalformedArchive  = errors.New("archive is not a readable zip file")
	ErrNestedRoot        = errors.New("archive wraps the project in a single top-level directory")
	ErrPathTraversal     = errors.New("archive contains entries escaping the extraction root")
	ErrMissingEntryPoint = errors.New("archive has no entry-point file at its root")
)

// DefaultEntryPoint is the file the synthesized run command launches when a
// submission does not carry its own build descriptor.
const DefaultEntryPoint = "main.py"

// Archive is a validated, extraction-ready handle over the raw upload.
type Archive struct {
	reader     *zip.Reader
	EntryPoint string
}

// Validate checks the raw upload for structural correctness: the zip must be
// well-formed, every entry must stay inside a single flat root, and the
// entry-point file must sit at that root. An empty entryPoint selects
// DefaultEntryPoint.
func Validate(data []byte, entryPoint string) (*Archive, error) {
	if entryPoint == "" {
		entryPoint = DefaultEntryPoint
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	if len(reader.File) == 0 {
		return nil, fmt.Errorf("%w: archive is empty", ErrMalformedArchive)
	}

	roots := map[string]bool{}
	rootIsDir := map[string]bool{}
	entryPointFound := false

	for _, file := range reader.File {
		if err := checkEntryPath(file.Name); err != nil {
			return nil, err
		}
		name := normalizeEntryName(file.Name)
		if name == "" {
			continue
		}

		first, rest, nested := strings.Cut(name, "/")
		roots[first] = true
		if (nested && rest != "") || file.FileInfo().IsDir() {
			rootIsDir[first] = true
		}
		if name == entryPoint && !file.FileInfo().IsDir() {
			entryPointFound = true
		}
	}

	if len(roots) == 1 {
		for root := range roots {
			if rootIsDir[root] {
				return nil, fmt.Errorf("%w: everything is under %q", ErrNestedRoot, root)
			}
		}
	}
	if !entryPointFound {
		return nil, fmt.Errorf("%w: expected %q", ErrMissingEntryPoint, entryPoint)
	}

	return &Archive{reader: reader, EntryPoint: entryPoint}, nil
}

// Files exposes the archive entries for extraction.
func (a *Archive) Files() []*zip.File {
	return a.reader.File
}

func normalizeEntryName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return strings.Trim(name, "/")
}

// checkEntryPath inspects the raw entry name, before any normalization, so
// absolute paths are rejected rather than silently relativized.
func checkEntryPath(name string) error {
	name = strings.ReplaceAll(name, `\`, "/")
	if path.IsAbs(name) {
		return fmt.Errorf("%w: absolute entry %q", ErrPathTraversal, name)
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: entry %q", ErrPathTraversal, name)
		}
	}
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: entry %q", ErrPathTraversal, name)
	}
	return nil
}
