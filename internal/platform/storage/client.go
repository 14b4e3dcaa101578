package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultUploadExpiry = 15 * time.Minute
	maxUploadExpiry     = time.Hour
)

var (
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	errExpiryTooLong      = errors.New("storage: expiry exceeds permitted maximum")

	// ErrContentTypeDenied is returned when the upload content type is not on the allow list.
	ErrContentTypeDenied = errors.New("storage: content type not allowed")
	// ErrTooLarge is returned when the declared upload size exceeds the configured maximum.
	ErrTooLarge = errors.New("storage: declared size exceeds maximum")
)

// Client generates V4 signed upload URLs backed by a Signer.
type Client struct {
	signer Signer
	now    func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient constructs a signed URL client.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	client := &Client{signer: signer, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// UploadOptions control signed PUT generation.
type UploadOptions struct {
	ContentType         string
	AllowedContentTypes []string
	DeclaredSize        int64
	MaxSize             int64
	ExpiresIn           time.Duration
	Metadata            map[string]string
}

// SignedURL describes a generated signed URL and the headers the uploader must send with it.
type SignedURL struct {
	URL       string
	Method    string
	ExpiresAt time.Time
	Headers   map[string]string
}

// SignedUploadURL returns a PUT URL for object. The size range header binds the maximum upload size
// into the signature so the bucket rejects oversized bodies.
func (c *Client) SignedUploadURL(ctx context.Context, bucket, object string, opts UploadOptions) (SignedURL, error) {
	if c == nil || c.signer == nil {
		return SignedURL{}, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return SignedURL{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedURL{}, errInvalidObject
	}

	contentType := strings.ToLower(strings.TrimSpace(opts.ContentType))
	if contentType == "" {
		return SignedURL{}, errContentTypeMissing
	}
	if len(opts.AllowedContentTypes) > 0 && !contentTypeAllowed(contentType, opts.AllowedContentTypes) {
		return SignedURL{}, ErrContentTypeDenied
	}
	if opts.MaxSize > 0 && opts.DeclaredSize > opts.MaxSize {
		return SignedURL{}, ErrTooLarge
	}

	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultUploadExpiry
	}
	if expiry > maxUploadExpiry {
		return SignedURL{}, errExpiryTooLong
	}

	headers := map[string]string{"Content-Type": contentType}
	var extHeaders []string
	if opts.MaxSize > 0 {
		sizeRange := fmt.Sprintf("0,%d", opts.MaxSize)
		extHeaders = append(extHeaders, "x-goog-content-length-range:"+sizeRange)
		headers["x-goog-content-length-range"] = sizeRange
	}
	for _, key := range sortedKeys(opts.Metadata) {
		value := strings.TrimSpace(opts.Metadata[key])
		if value == "" {
			continue
		}
		header := "x-goog-meta-" + strings.ToLower(strings.TrimSpace(key))
		extHeaders = append(extHeaders, header+":"+value)
		headers[header] = value
	}

	expiresAt := c.now().Add(expiry)
	signed, err := gcs.SignedURL(bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         http.MethodPut,
		ContentType:    contentType,
		Headers:        extHeaders,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return SignedURL{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return SignedURL{
		URL:       signed,
		Method:    http.MethodPut,
		ExpiresAt: expiresAt,
		Headers:   headers,
	}, nil
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch {
		case candidate == "":
			continue
		case candidate == "*":
			return true
		case strings.HasSuffix(candidate, "/*"):
			if strings.HasPrefix(contentType, strings.TrimSuffix(candidate, "*")) {
				return true
			}
		case contentType == candidate:
			return true
		}
	}
	return false
}
