package router

import (
	"context"
	"io"
	"testing"

	"github.com/heatflow/oilshop-backend/internal/analytics/types"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

type fakeWriter struct {
	inserted []types.OrderEventRow
	err      error
}

func (f *fakeWriter) Insert(_ context.Context, row types.OrderEventRow) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, row)
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
}
