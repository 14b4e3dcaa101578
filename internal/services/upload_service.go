package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"github.com/katkisiz/api/internal/platform/storage"
	"github.com/katkisiz/api/internal/platform/textutil"
)

const (
	defaultMaxUploadBytes   = int64(10 << 20)
	uploadLoggerEventIssued = "upload.product_image.issued"
)

var (
	// ErrUploadInvalidInput indicates the upload request was rejected.
	ErrUploadInvalidInput = errors.New("upload: invalid input")
	// ErrUploadForbidden indicates an anonymous caller requested an upload.
	ErrUploadForbidden = errors.New("upload: forbidden")
	// ErrUploadTooLarge indicates the declared size exceeds the limit.
	ErrUploadTooLarge = errors.New("upload: file too large")
	// ErrUploadUnavailable indicates signing is not configured or failed.
	ErrUploadUnavailable = errors.New("upload: unavailable")
)

// UploadServiceDeps wires dependencies for the upload service.
type UploadServiceDeps struct {
	Signer      UploadSigner
	Bucket      string
	MaxBytes    int64
	Expiry      time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type uploadService struct {
	signer   UploadSigner
	bucket   string
	maxBytes int64
	expiry   time.Duration
	clock    func() time.Time
	newID    func() string
	validate *validator.Validate
	logger   func(context.Context, string, map[string]any)
}

var _ UploadService = (*uploadService)(nil)

// NewUploadService constructs the product image upload service.
func NewUploadService(deps UploadServiceDeps) (UploadService, error) {
	if deps.Signer == nil {
		return nil, errors.New("upload service: signer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("upload service: bucket is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	maxBytes := deps.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &uploadService{
		signer:   deps.Signer,
		bucket:   bucket,
		maxBytes: maxBytes,
		expiry:   deps.Expiry,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}, nil
}

func (s *uploadService) IssueUploadURL(ctx context.Context, cmd IssueUploadURLCommand) (UploadTicket, error) {
	if !cmd.Actor.Authenticated() {
		return UploadTicket{}, fmt.Errorf("%w: authentication required", ErrUploadForbidden)
	}
	cmd.ContentType = strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if err := s.validate.Struct(cmd); err != nil {
		return UploadTicket{}, fmt.Errorf("%w: %s", ErrUploadInvalidInput, describeValidation(err))
	}
	if cmd.Size > s.maxBytes {
		return UploadTicket{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrUploadTooLarge, cmd.Size, s.maxBytes)
	}

	uploadID := s.newID()
	now := s.clock()
	objectPath, err := storage.ProductImagePath(cmd.Actor.UserID, uploadID, cmd.ContentType, now)
	if errors.Is(err, storage.ErrContentTypeDenied) {
		return UploadTicket{}, fmt.Errorf("%w: content type %s is not accepted", ErrUploadInvalidInput, cmd.ContentType)
	}
	if err != nil {
		return UploadTicket{}, fmt.Errorf("%w: %v", ErrUploadInvalidInput, err)
	}

	metadata := textutil.NormalizeStringMap(map[string]string{
		"uid":          cmd.Actor.UserID,
		"upload-id":    uploadID,
		"declared-len": declaredLength(cmd.Size),
	})
	signed, err := s.signer.SignedUploadURL(ctx, s.bucket, objectPath, storage.UploadOptions{
		ContentType:         cmd.ContentType,
		AllowedContentTypes: storage.ProductImageContentTypes(),
		DeclaredSize:        cmd.Size,
		MaxSize:             s.maxBytes,
		ExpiresIn:           s.expiry,
		Metadata:            metadata,
	})
	switch {
	case errors.Is(err, storage.ErrContentTypeDenied):
		return UploadTicket{}, fmt.Errorf("%w: content type %s is not accepted", ErrUploadInvalidInput, cmd.ContentType)
	case errors.Is(err, storage.ErrTooLarge):
		return UploadTicket{}, ErrUploadTooLarge
	case err != nil:
		return UploadTicket{}, fmt.Errorf("%w: %v", ErrUploadUnavailable, err)
	}

	s.logger(ctx, uploadLoggerEventIssued, map[string]any{
		"uploadId":   uploadID,
		"objectPath": objectPath,
		"expiresAt":  signed.ExpiresAt,
	})

	return UploadTicket{
		UploadID:   uploadID,
		ObjectPath: objectPath,
		URL:        signed.URL,
		Method:     signed.Method,
		Headers:    signed.Headers,
		ExpiresAt:  signed.ExpiresAt,
	}, nil
}

func declaredLength(size int64) string {
	if size <= 0 {
		return ""
	}
	return strconv.FormatInt(size, 10)
}
