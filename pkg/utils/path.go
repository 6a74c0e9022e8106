package utils

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanKey normalizes an object key to forward-slash form with no leading
// slash and no traversal segments. Keys are rejected when, after cleaning,
// they are empty or still reach outside their root via "..".
//
// Example usage:
//
//	key, err := CleanKey(userProvidedKey)
//	if err != nil {
//		return fmt.Errorf("invalid key: %w", err)
//	}
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	cleaned := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")

	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("key resolves to empty path: %s", key)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("key contains directory traversal: %s", key)
	}

	return cleaned, nil
}

// ValidatePath validates that a file path is safe and does not contain
// directory traversal attempts.
func ValidatePath(p string, allowAbsolute bool) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(p)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", p)
	}

	if !allowAbsolute && filepath.IsAbs(cleanPath) {
		return fmt.Errorf("absolute paths not allowed: %s", p)
	}

	return nil
}

// SecureJoin safely joins path elements and ensures the result stays within
// the base directory. Unlike filepath.Join, this function validates that the
// result doesn't escape the base through directory traversal.
//
// Example usage:
//
//	safePath, err := SecureJoin(root, key)
//	if err != nil {
//		return fmt.Errorf("invalid path combination: %w", err)
//	}
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)

	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		fullPath != cleanBase {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}
