package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

func testLogger(out io.Writer) *logger.Logger {
	return logger.New(logger.Options{ServiceName: "responses-test", Output: out})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return env.Error
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"order_number": "H100001"})

	if got := w.Code; got != http.StatusCreated {
		t.Fatalf("expected status 201 but got %d", got)
	}
	var body successEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode success envelope: %v", err)
	}
	if body.Data.(map[string]any)["order_number"] != "H100001" {
		t.Fatalf("unexpected payload %v", body.Data)
	}
}

func TestWriteErrorExposesValidationDetails(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-42")
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "liters"})
	WriteError(context.Background(), testLogger(io.Discard), w, err)

	if got := w.Code; got != http.StatusBadRequest {
		t.Fatalf("expected status 400 but got %d", got)
	}
	body := decodeError(t, w)
	if body.Code != string(pkgerrors.CodeValidation) || body.Message != "bad input" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Details == nil {
		t.Fatalf("expected details in public payload")
	}
	if body.RequestID != "req-42" {
		t.Fatalf("expected request id to be echoed, got %q", body.RequestID)
	}
}

func TestWriteErrorKeepsProviderCauseOutOfPayload(t *testing.T) {
	w := httptest.NewRecorder()
	var logs bytes.Buffer
	cause := fmt.Errorf("status 500: {\"errors\":[{\"code\":\"GW0001\"}]}")
	WriteError(context.Background(), testLogger(&logs), w, pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "payment provider unavailable, please retry"))

	if got := w.Code; got != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 but got %d", got)
	}
	body := decodeError(t, w)
	if body.Message != "payment provider unavailable, please retry" {
		t.Fatalf("unexpected message %q", body.Message)
	}
	if !strings.Contains(logs.String(), "GW0001") {
		t.Fatalf("cause should reach the log, got %s", logs.String())
	}
	if !strings.Contains(logs.String(), `"level":"error"`) {
		t.Fatalf("5xx should log at error level, got %s", logs.String())
	}
}

func TestWriteErrorLogsClientErrorsAsWarn(t *testing.T) {
	w := httptest.NewRecorder()
	var logs bytes.Buffer
	WriteError(context.Background(), testLogger(&logs), w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(logs.String(), `"level":"warn"`) {
		t.Fatalf("4xx should log at warn level, got %s", logs.String())
	}
}

func TestWriteErrorDefaultsToInternalForUntrustedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("pq: connection refused"))

	if got := w.Code; got != http.StatusInternalServerError {
		t.Fatalf("expected status 500 but got %d", got)
	}
	body := decodeError(t, w)
	if body.Code != string(pkgerrors.CodeInternal) {
		t.Fatalf("unexpected code %s", body.Code)
	}
	if body.Message != "internal server error" {
		t.Fatalf("unexpected message %q", body.Message)
	}
	if body.Details != nil {
		t.Fatalf("details should be omitted for internal errors")
	}
}

func TestWriteRedirect(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/payments/nexi/return", nil)
	WriteRedirect(w, r, "https://shop.example/danke?order=H100001")

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://shop.example/danke?order=H100001" {
		t.Fatalf("unexpected location %q", loc)
	}
}
