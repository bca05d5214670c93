// Package reqid mints and carries the correlation id that the Rx-style
// request-tracking interceptor (spec.md §9) stamps onto inbound HTTP
// requests and propagates to outbound calls.
package reqid

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"time"
)

type ctxKey struct{}

// New mints a correlation id of the form req-<ms36>-<rand6>: the current
// unix millisecond timestamp in base36, followed by six random hex digits.
func New() string {
	ms := strconv.FormatInt(time.Now().UnixMilli(), 36)

	var b [3]byte
	_, _ = rand.Read(b[:])

	return fmt.Sprintf("req-%s-%06x", ms, b)
}

// WithID attaches id to ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id carried by ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// FromContextOrNew returns ctx's correlation id, minting a fresh one if ctx
// carries none. Used by outbound callers (e.g. the Evaluator's dispatch to
// the Executor) that did not originate from an inbound HTTP request.
func FromContextOrNew(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok && id != "" {
		return id
	}
	return New()
}
