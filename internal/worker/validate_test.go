package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityPolicy_IsPathAllowed_NoRootsAllowsAll(t *testing.T) {
	p := SecurityPolicy{}
	assert.True(t, p.isPathAllowed("/anywhere/file.go"))
}

func TestSecurityPolicy_IsPathAllowed_RestrictsToRoot(t *testing.T) {
	dir := t.TempDir()
	p := SecurityPolicy{AllowedDirs: []string{dir}}

	assert.True(t, p.isPathAllowed(filepath.Join(dir, "sub", "file.go")))
	assert.False(t, p.isPathAllowed("/etc/passwd"))
}

func TestSecurityPolicy_IsExtensionAllowed(t *testing.T) {
	p := SecurityPolicy{AllowedExtensions: []string{".go", ".md"}}

	assert.True(t, p.isExtensionAllowed("main.go"))
	assert.True(t, p.isExtensionAllowed("README.MD"))
	assert.False(t, p.isExtensionAllowed("script.sh"))
}

func TestSecurityPolicy_ValidateFileOperation_RejectsOversized(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(big, make([]byte, 1024), 0o644))

	p := SecurityPolicy{AllowedDirs: []string{dir}, AllowedExtensions: []string{".txt"}, MaxFileSize: 100}
	err := p.validateFileOperation(big)
	assert.Error(t, err)
}

func TestSecurityPolicy_ValidateFileOperation_MissingFileSkipsSizeCheck(t *testing.T) {
	dir := t.TempDir()
	p := SecurityPolicy{AllowedDirs: []string{dir}, AllowedExtensions: []string{".txt"}, MaxFileSize: 100}

	err := p.validateFileOperation(filepath.Join(dir, "not_yet_written.txt"))
	assert.NoError(t, err)
}

func TestSecurityPolicy_ValidateTaskFiles_RejectsBadExtension(t *testing.T) {
	dir := t.TempDir()
	p := SecurityPolicy{AllowedDirs: []string{dir}, AllowedExtensions: []string{".go"}}

	err := p.validateTaskFiles([]string{filepath.Join(dir, "input.sh")}, "")
	assert.Error(t, err)
}

func TestSecurityPolicy_ValidateTaskFiles_RejectsOutputOutsideRoot(t *testing.T) {
	dir := t.TempDir()
	p := SecurityPolicy{AllowedDirs: []string{dir}, AllowedExtensions: []string{".go"}}

	err := p.validateTaskFiles(nil, "/tmp/elsewhere/out.go")
	assert.Error(t, err)
}

func TestSecurityPolicy_ValidateTaskFiles_AllowsWellFormedRequest(t *testing.T) {
	dir := t.TempDir()
	p := SecurityPolicy{AllowedDirs: []string{dir}, AllowedExtensions: []string{".go"}}

	err := p.validateTaskFiles([]string{filepath.Join(dir, "in.go")}, filepath.Join(dir, "out.go"))
	assert.NoError(t, err)
}
