package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	productImagePrefix = "products/"
	processedMarker    = "_processed"
)

// ErrInvalidObjectPath is returned for object names outside the product image layout.
var ErrInvalidObjectPath = errors.New("storage: object path is not a product image path")

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// ProductImageContentTypes lists the content types accepted for product label uploads.
func ProductImageContentTypes() []string {
	return sortedKeys(imageExtensions)
}

// ProductImagePath composes products/{uid}/{uploadID}_{unixMillis}{ext}.
func ProductImagePath(uid, uploadID, contentType string, at time.Time) (string, error) {
	uid, err := validateSegment("uid", uid)
	if err != nil {
		return "", err
	}
	uploadID, err = validateSegment("uploadID", uploadID)
	if err != nil {
		return "", err
	}
	ext, ok := imageExtensions[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", ErrContentTypeDenied
	}
	return fmt.Sprintf("%s%s/%s_%d%s", productImagePrefix, uid, uploadID, at.UnixMilli(), ext), nil
}

// ProductImageOwner extracts the uid segment from a product image object name.
func ProductImageOwner(object string) (string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(object), productImagePrefix)
	if !ok {
		return "", ErrInvalidObjectPath
	}
	uid, file, ok := strings.Cut(rest, "/")
	if !ok || file == "" || strings.Contains(file, "/") {
		return "", ErrInvalidObjectPath
	}
	if _, err := validateSegment("uid", uid); err != nil {
		return "", ErrInvalidObjectPath
	}
	return uid, nil
}

// IsProcessedObject reports whether the object is a derived artefact that must not be analysed again.
func IsProcessedObject(object string) bool {
	return strings.Contains(object, processedMarker)
}

// GCSURI formats the gs:// URI for an object.
func GCSURI(bucket, object string) string {
	return "gs://" + strings.TrimSpace(bucket) + "/" + strings.TrimPrefix(strings.TrimSpace(object), "/")
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
