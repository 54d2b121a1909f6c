package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient prefers ADC; GCS_CREDENTIALS_JSON overrides it (local runs).
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// SaveDocument stores data under objectName with the configured provider and returns its access URL.
func SaveDocument(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	switch GetStorageProvider() {
	case StorageProviderLocal:
		if err := saveDocumentLocal(objectName, data); err != nil {
			return "", err
		}
	case StorageProviderGCS:
		if err := UploadBytesToGCS(ctx, objectName, data, contentType); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unsupported storage provider %q", GetStorageProvider())
	}
	return BuildObjectAccessURL(objectName), nil
}

func saveDocumentLocal(objectName string, data []byte) error {
	root := os.Getenv("LOCAL_STORAGE_DIR")
	if root == "" {
		root = "storage"
	}
	clean := filepath.Clean("/" + objectName)
	path := filepath.Join(root, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func UploadBytesToGCS(ctx context.Context, objectName string, data []byte, contentType string) error {
	bucketName := os.Getenv("GCS_BUCKET")
	if bucketName == "" {
		return errors.New("GCS_BUCKET is required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to upload bytes to Google Cloud Storage: %v", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %v", err)
	}
	return nil
}
