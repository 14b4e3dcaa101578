package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/katkisiz/api/internal/platform/firestore"
)

const defaultCollection = "submission_keys"

// FirestoreOption customises FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.name = name
		}
	}
}

// FirestoreStore implements Store on top of the shared Firestore provider.
type FirestoreStore struct {
	provider *pfirestore.Provider
	name     string
	docs     *pfirestore.Collection[submissionDocument]
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	store := &FirestoreStore{provider: provider, name: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	store.docs = pfirestore.NewCollection[submissionDocument](provider, store.name)
	return store, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := documentID(key)
	ref, err := s.docs.Ref(ctx, id)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := s.docs.GetTx(ctx, tx, id)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil && !expired(doc.Data.toRecord(), now) {
			record := doc.Data.toRecord()
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			state := ReservationStatePending
			if record.Status == StatusCompleted {
				state = ReservationStateCompleted
			}
			result = Reservation{State: state, Record: record}
			return nil
		}

		record := newPendingRecord(key, fingerprint, now, ttl)
		if err := tx.Set(ref, fromRecord(record)); err != nil {
			return pfirestore.WrapError("idempotency.reserve", err)
		}
		result = Reservation{State: ReservationStateNew, Record: record}
		return nil
	})
	return result, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := documentID(key)
	ref, err := s.docs.Ref(ctx, id)
	if err != nil {
		return err
	}
	headers := sanitizeHeaders(resp.Headers)
	body := append([]byte(nil), resp.Body...)

	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record := Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		doc, err := s.docs.GetTx(ctx, tx, id)
		switch {
		case err == nil:
			record = doc.Data.toRecord()
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		case !isNotFound(err):
			return err
		}

		record.Status = StatusCompleted
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = headers
		record.ResponseBody = body
		record.UpdatedAt = now
		record.ExpiresAt = now.Add(ttl)
		if err := tx.Set(ref, fromRecord(record)); err != nil {
			return pfirestore.WrapError("idempotency.save", err)
		}
		return nil
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.docs.Ref(ctx, documentID(key))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		wrapped := pfirestore.WrapError("idempotency.release", err)
		if isNotFound(wrapped) {
			return nil
		}
		return wrapped
	}
	return nil
}

func isNotFound(err error) bool {
	var fsErr *pfirestore.Error
	return errors.As(err, &fsErr) && fsErr.IsNotFound()
}

type submissionDocument struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func fromRecord(r Record) submissionDocument {
	return submissionDocument{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (d submissionDocument) toRecord() Record {
	return Record{
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}
