package util

import (
	"log"
	"os"
	"path/filepath"
)

// GetAbsolutePath resolves a path relative to the current working directory.
// Absolute and empty paths are returned unchanged.
func GetAbsolutePath(relativePath string) string {
	if relativePath == "" || filepath.IsAbs(relativePath) {
		return relativePath
	}

	root, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	return filepath.Join(root, relativePath)
}
