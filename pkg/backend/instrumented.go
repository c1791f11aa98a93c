package backend

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/metastore/pkg/logging"
	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/metrics"
)

// Instrumented records metrics and logs for every call to the wrapped
// backend.
type Instrumented struct {
	next   metastore.Backend
	logger *zap.Logger
}

var _ metastore.Backend = (*Instrumented)(nil)

// Instrument wraps b. A nil logger uses the global one.
func Instrument(b metastore.Backend, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = logging.L()
	}
	return &Instrumented{next: b, logger: logger}
}

// Unwrap returns the wrapped backend.
func (i *Instrumented) Unwrap() metastore.Backend {
	return i.next
}

func (i *Instrumented) Name() string {
	return i.next.Name()
}

func (i *Instrumented) observe(ctx context.Context, op, objectID string, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.RecordOperation(i.next.Name(), op, elapsed, err == nil)

	logger := i.logger
	if l, ok := logging.FromContext(ctx); ok {
		logger = l
	}
	fields := []zap.Field{
		zap.String("backend", i.next.Name()),
		zap.String("operation", op),
		zap.String("object_id", objectID),
		zap.Duration("duration", elapsed),
	}
	if err != nil {
		logger.Warn("operation failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("operation completed", fields...)
}

func (i *Instrumented) Create(ctx context.Context, objectID string, metadata metastore.Metadata, opts metastore.CreateOptions) (*metastore.ObjectInfo, error) {
	start := time.Now()
	info, err := i.next.Create(ctx, objectID, metadata, opts)
	i.observe(ctx, "create", objectID, start, err)
	return info, err
}

func (i *Instrumented) Fetch(ctx context.Context, objectID string, opts metastore.FetchOptions) (*metastore.ObjectInfo, error) {
	start := time.Now()
	info, err := i.next.Fetch(ctx, objectID, opts)
	i.observe(ctx, "fetch", objectID, start, err)
	return info, err
}

func (i *Instrumented) Update(ctx context.Context, objectID string, patch metastore.Metadata, opts metastore.UpdateOptions) (*metastore.ObjectInfo, error) {
	start := time.Now()
	info, err := i.next.Update(ctx, objectID, patch, opts)
	i.observe(ctx, "update", objectID, start, err)
	return info, err
}

func (i *Instrumented) Delete(ctx context.Context, objectID string, opts metastore.DeleteOptions) (*metastore.DeleteResult, error) {
	start := time.Now()
	res, err := i.next.Delete(ctx, objectID, opts)
	i.observe(ctx, "delete", objectID, start, err)
	return res, err
}
