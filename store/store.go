// Package store defines the key/value contract the onboarding session uses to
// survive reloads, together with an in-memory implementation.
package store

import (
	"context"
	"fmt"
)

// Keys used by the onboarding session. They are independent of each other.
const (
	KeyData         = "onboarding-data"
	KeyStep         = "onboarding-step"
	KeyAccessToken  = "access-token"
	KeyTokenExpiry  = "token-expiry"
	KeyRefreshToken = "refresh-token"
)

// Store is a durable string key/value store. Only single key atomicity is
// assumed.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Batcher is implemented by stores that can apply several operations
// atomically.
type Batcher interface {
	Apply(ctx context.Context, ops ...Op) error
}

// Op is a single write in a batch. Delete ops ignore Value.
type Op struct {
	Key    string
	Value  string
	Delete bool
}

// Put returns a set operation.
func Put(key, value string) Op {
	return Op{Key: key, Value: value}
}

// Delete returns a remove operation.
func Delete(key string) Op {
	return Op{Key: key, Delete: true}
}

// Apply writes ops through the store's Batcher when available, otherwise it
// issues them one by one in order and stops at the first failure.
func Apply(ctx context.Context, s Store, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}

	if b, ok := s.(Batcher); ok {
		return b.Apply(ctx, ops...)
	}

	for _, op := range ops {
		var err error
		if op.Delete {
			err = s.Remove(ctx, op.Key)
		} else {
			err = s.Set(ctx, op.Key, op.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Error reports a failed store access.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Key == "" {
		return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap builds an *Error, returning nil when err is nil.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err}
}
