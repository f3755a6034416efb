package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecurityPolicy is the allow-list a Worker enforces against every file
// path a task references, before ever invoking the Executor on it.
type SecurityPolicy struct {
	AllowedDirs       []string
	AllowedExtensions []string
	MaxFileSize       int64
}

// isPathAllowed reports whether path resolves under one of the configured
// allowed directory roots. An empty AllowedDirs list allows everything,
// matching the permissive default used before any roots are configured.
func (p SecurityPolicy) isPathAllowed(path string) bool {
	if len(p.AllowedDirs) == 0 {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range p.AllowedDirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if abs == absDir || strings.HasPrefix(abs, absDir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// isExtensionAllowed reports whether path's extension is in the configured
// allow-list. An empty AllowedExtensions list allows everything.
func (p SecurityPolicy) isExtensionAllowed(path string) bool {
	if len(p.AllowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range p.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// validateFileOperation checks path against the directory and extension
// allow-lists, and against MaxFileSize when the file already exists. A path
// that does not exist yet passes without any size check.
func (p SecurityPolicy) validateFileOperation(path string) error {
	if !p.isPathAllowed(path) {
		return fmt.Errorf("path %q is outside allowed directories", path)
	}
	if !p.isExtensionAllowed(path) {
		return fmt.Errorf("path %q has a disallowed extension", path)
	}
	if p.MaxFileSize <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil // file doesn't exist yet; nothing to size
	}
	if info.Size() > p.MaxFileSize {
		return fmt.Errorf("path %q exceeds max file size of %d bytes", path, p.MaxFileSize)
	}
	return nil
}

// validateTaskFiles validates every context file and the output file (if
// any) a task references, returning the first violation found.
func (p SecurityPolicy) validateTaskFiles(files []string, outputFile string) error {
	for _, f := range files {
		if err := p.validateFileOperation(f); err != nil {
			return err
		}
	}
	if outputFile != "" {
		if !p.isPathAllowed(outputFile) {
			return fmt.Errorf("output path %q is outside allowed directories", outputFile)
		}
		if !p.isExtensionAllowed(outputFile) {
			return fmt.Errorf("output path %q has a disallowed extension", outputFile)
		}
	}
	return nil
}
