package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.\-]+`)

// SanitizeTarget replaces characters unsafe for filesystem paths
// Allows alphanumeric, dots, and hyphens. Replaces everything else with underscore.
func SanitizeTarget(target string) string {
	return unsafeChars.ReplaceAllString(target, "_")
}

// ReportPath generates a consistent file path for a run report
// Format: {baseDir}/{target}_{YYYYMMDD}_{HHMMSS}.{ext}
func ReportPath(baseDir, target string, startedAt time.Time, ext string) string {
	name := fmt.Sprintf("%s_%s.%s", SanitizeTarget(target), startedAt.UTC().Format("20060102_150405"), ext)
	return filepath.Join(baseDir, name)
}

// WriteReport writes data to path, creating parent directories as needed.
func WriteReport(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}

// EnsureDir creates a directory and all parent directories if they don't exist
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
