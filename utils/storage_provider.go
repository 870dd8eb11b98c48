package utils

import (
	"os"
	"strings"
)

const (
	StorageProviderGCS   = "gcs"
	StorageProviderLocal = "local"
)

func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderGCS
	}
	return provider
}

// GetDocumentDir is where the local provider writes rendered documents.
func GetDocumentDir() string {
	if dir := strings.TrimSpace(os.Getenv("DOCUMENT_DIR")); dir != "" {
		return dir
	}
	return "documents"
}
