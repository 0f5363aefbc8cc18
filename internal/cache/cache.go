package cache

import (
	"context"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// CallByExternalKey keys the call resolved for a telephony vendor call id.
func CallByExternalKey(externalCallID string) string {
	return "call:external:" + externalCallID
}

// Noop is used when Redis is not configured; every lookup is a miss.
type Noop struct{}

func (Noop) GetJSON(context.Context, string, any) (bool, error)       { return false, nil }
func (Noop) SetJSON(context.Context, string, any, time.Duration) error { return nil }
func (Noop) Del(context.Context, ...string) error                      { return nil }
