package eventbus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// Idempotency derives deterministic keys for (event, consumer) pairs and
// answers already-processed queries against the consumption table.
type Idempotency struct {
	store  store.Store
	codec  Codec
	logger *slog.Logger
}

// IdempotencyOption configures an Idempotency component.
type IdempotencyOption func(*Idempotency)

// WithIdempotencyCodec sets the codec used for result hashing.
// Default: JSONCodec.
func WithIdempotencyCodec(c Codec) IdempotencyOption {
	return func(i *Idempotency) {
		i.codec = c
	}
}

// WithIdempotencyLogger sets the logger. Default: no logging.
func WithIdempotencyLogger(l *slog.Logger) IdempotencyOption {
	return func(i *Idempotency) {
		i.logger = l
	}
}

// NewIdempotency creates an Idempotency component over the given store.
func NewIdempotency(st store.Store, opts ...IdempotencyOption) *Idempotency {
	i := &Idempotency{
		store: st,
		codec: JSONCodec{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Key derives the idempotency key for an (event, consumer) pair: the SHA-256
// digest of "eventID-consumerID", hex encoded. Same inputs always produce the
// same key.
func (i *Idempotency) Key(eventID, consumerID string) string {
	sum := sha256.Sum256([]byte(eventID + "-" + consumerID))
	return hex.EncodeToString(sum[:])
}

// AlreadyProcessed reports whether a consumption with the given key exists
// and completed successfully. Failed or in-flight attempts don't count.
func (i *Idempotency) AlreadyProcessed(ctx context.Context, key string) (bool, error) {
	c, err := i.store.GetConsumptionByKey(ctx, key)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.Status == store.StatusSuccess, nil
}

// RecordResult updates the result hash on the consumption with the given key.
// A missing row is logged, not an error: recording is best-effort.
func (i *Idempotency) RecordResult(ctx context.Context, key, resultHash string) error {
	c, err := i.store.GetConsumptionByKey(ctx, key)
	if err == store.ErrNotFound {
		if i.logger != nil {
			i.logger.Warn("consumption not found when recording result",
				slog.String("idempotency_key", key))
		}
		return nil
	}
	if err != nil {
		return err
	}
	c.ResultHash = resultHash
	return i.store.UpdateConsumption(ctx, c)
}

// HashResult returns the hex-encoded SHA-256 digest of the serialized result.
// A nil result hashes to the empty string.
func (i *Idempotency) HashResult(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := i.codec.Encode(v)
	if err != nil {
		return "", &PayloadError{Op: "hash", Err: err}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
