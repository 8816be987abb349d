package crm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearthline/waitlist/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSubscriber() *model.Subscriber {
	cost := 180.5
	return &model.Subscriber{
		ID:                 "01JSUB",
		Email:              "ada@example.com",
		Name:               "Ada",
		PostalCode:         "M5V 3L9",
		PropertyType:       model.PropertyHome,
		MonthlyHeatingCost: &cost,
		Consent:            true,
		Attribution:        model.Attribution{Source: "google", Campaign: "winter"},
		RiskFlags:          []string{"FAST_SUBMIT"},
		Status:             model.StatusPending,
		CreatedAt:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestAirtable_UpsertLead(t *testing.T) {
	t.Parallel()

	var got upsertRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		if r.URL.Path != "/v0/appBase/Waitlist Leads" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key123" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"records":[{"id":"rec1"}]}`))
	}))
	defer srv.Close()

	c := NewAirtableClient(AirtableConfig{
		APIKey: "key123", BaseID: "appBase", Table: "Waitlist Leads", BaseURL: srv.URL,
	}, discardLogger())

	if err := c.UpsertLead(context.Background(), testSubscriber()); err != nil {
		t.Fatalf("UpsertLead() error = %v", err)
	}

	if len(got.PerformUpsert.FieldsToMergeOn) != 1 || got.PerformUpsert.FieldsToMergeOn[0] != "Email" {
		t.Errorf("fieldsToMergeOn = %v", got.PerformUpsert.FieldsToMergeOn)
	}
	fields := got.Records[0].Fields
	checks := map[string]any{
		"Email":                "ada@example.com",
		"Postal Code":          "M5V 3L9",
		"Monthly Heating Cost": 180.5,
		"Risk Flags":           "FAST_SUBMIT",
		"UTM Source":           "google",
		"Status":               "pending",
		"Signed Up At":         "2026-01-02T03:04:05Z",
	}
	for k, want := range checks {
		if fields[k] != want {
			t.Errorf("fields[%q] = %v, want %v", k, fields[k], want)
		}
	}
	if _, ok := fields["UTM Medium"]; ok {
		t.Error("empty UTM fields should be omitted")
	}
}

func TestAirtable_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"type":"INVALID_VALUE_FOR_COLUMN","message":"bad"}}`))
	}))
	defer srv.Close()

	c := NewAirtableClient(AirtableConfig{APIKey: "k", BaseID: "b", Table: "t", BaseURL: srv.URL}, discardLogger())
	err := c.UpsertLead(context.Background(), testSubscriber())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Type != "INVALID_VALUE_FOR_COLUMN" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestAirtable_Throttle(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewAirtableClient(AirtableConfig{APIKey: "k", BaseID: "b", Table: "t", BaseURL: srv.URL, RPS: 1}, discardLogger())

	if err := c.UpsertLead(context.Background(), testSubscriber()); err != nil {
		t.Fatalf("first call error = %v", err)
	}

	// The bucket is empty; a second call cannot get a token before the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.UpsertLead(ctx, testSubscriber()); err == nil {
		t.Fatal("second call within the same second should be throttled")
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}
