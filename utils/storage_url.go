package utils

import (
	"fmt"
	"os"
	"strings"
)

// BuildObjectAccessURL returns the stable (unsigned) URL for an evidence
// object. Callers wanting a browser-usable link should use SignDownload.
func BuildObjectAccessURL(objectKey string) string {
	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucket == "" {
		return objectKey
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, objectKey)
}

// ExtractObjectKeyFromURL reverses BuildObjectAccessURL for rows that stored
// a full URL before object keys were persisted directly.
func ExtractObjectKeyFromURL(rawURL string) string {
	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucket == "" {
		return rawURL
	}
	prefix := fmt.Sprintf("https://storage.googleapis.com/%s/", bucket)
	return strings.TrimPrefix(rawURL, prefix)
}
