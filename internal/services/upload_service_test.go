package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/katkisiz/api/internal/platform/storage"
)

type stubUploadSigner struct {
	bucket string
	object string
	opts   storage.UploadOptions
	err    error
}

func (s *stubUploadSigner) SignedUploadURL(_ context.Context, bucket, object string, opts storage.UploadOptions) (storage.SignedURL, error) {
	s.bucket = bucket
	s.object = object
	s.opts = opts
	if s.err != nil {
		return storage.SignedURL{}, s.err
	}
	return storage.SignedURL{
		URL:       "https://storage.googleapis.com/" + bucket + "/" + object + "?X-Goog-Signature=abc",
		Method:    "PUT",
		ExpiresAt: time.Date(2025, 6, 1, 12, 15, 0, 0, time.UTC),
		Headers:   map[string]string{"Content-Type": opts.ContentType},
	}, nil
}

func newTestUploadService(t *testing.T, signer *stubUploadSigner) UploadService {
	t.Helper()
	svc, err := NewUploadService(UploadServiceDeps{
		Signer:      signer,
		Bucket:      "katkisiz-images",
		MaxBytes:    1024,
		Expiry:      10 * time.Minute,
		Clock:       func() time.Time { return time.UnixMilli(1717243200000) },
		IDGenerator: func() string { return "01HZUPLOAD" },
	})
	if err != nil {
		t.Fatalf("new upload service: %v", err)
	}
	return svc
}

func TestNewUploadServiceRequiresSignerAndBucket(t *testing.T) {
	if _, err := NewUploadService(UploadServiceDeps{Bucket: "b"}); err == nil {
		t.Fatalf("expected error without signer")
	}
	if _, err := NewUploadService(UploadServiceDeps{Signer: &stubUploadSigner{}}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}

func TestUploadServiceIssueUploadURL(t *testing.T) {
	signer := &stubUploadSigner{}
	svc := newTestUploadService(t, signer)

	ticket, err := svc.IssueUploadURL(context.Background(), IssueUploadURLCommand{
		Actor:       Actor{UserID: "user-1"},
		ContentType: " IMAGE/PNG ",
		Size:        512,
	})
	if err != nil {
		t.Fatalf("issue upload url: %v", err)
	}

	wantPath := "products/user-1/01HZUPLOAD_1717243200000.png"
	if ticket.ObjectPath != wantPath || signer.object != wantPath {
		t.Fatalf("expected object path %s, got %s / %s", wantPath, ticket.ObjectPath, signer.object)
	}
	if signer.bucket != "katkisiz-images" {
		t.Fatalf("unexpected bucket %s", signer.bucket)
	}
	if signer.opts.ContentType != "image/png" || signer.opts.MaxSize != 1024 || signer.opts.ExpiresIn != 10*time.Minute {
		t.Fatalf("unexpected upload options %+v", signer.opts)
	}
	if signer.opts.Metadata["uid"] != "user-1" || signer.opts.Metadata["declared-len"] != "512" {
		t.Fatalf("unexpected metadata %+v", signer.opts.Metadata)
	}
	if ticket.UploadID != "01HZUPLOAD" || ticket.Method != "PUT" || ticket.URL == "" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
}

func TestUploadServiceIssueUploadURLErrors(t *testing.T) {
	cases := []struct {
		name   string
		cmd    IssueUploadURLCommand
		signer *stubUploadSigner
		want   error
	}{
		{"anonymous", IssueUploadURLCommand{ContentType: "image/jpeg"}, &stubUploadSigner{}, ErrUploadForbidden},
		{"missing content type", IssueUploadURLCommand{Actor: Actor{UserID: "u"}}, &stubUploadSigner{}, ErrUploadInvalidInput},
		{"negative size", IssueUploadURLCommand{Actor: Actor{UserID: "u"}, ContentType: "image/jpeg", Size: -1}, &stubUploadSigner{}, ErrUploadInvalidInput},
		{"unsupported type", IssueUploadURLCommand{Actor: Actor{UserID: "u"}, ContentType: "image/gif"}, &stubUploadSigner{}, ErrUploadInvalidInput},
		{"too large", IssueUploadURLCommand{Actor: Actor{UserID: "u"}, ContentType: "image/jpeg", Size: 4096}, &stubUploadSigner{}, ErrUploadTooLarge},
		{"bad uid", IssueUploadURLCommand{Actor: Actor{UserID: "a/b"}, ContentType: "image/jpeg"}, &stubUploadSigner{}, ErrUploadInvalidInput},
		{"signer failure", IssueUploadURLCommand{Actor: Actor{UserID: "u"}, ContentType: "image/jpeg"}, &stubUploadSigner{err: errors.New("iam")}, ErrUploadUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestUploadService(t, tc.signer)
			_, err := svc.IssueUploadURL(context.Background(), tc.cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
