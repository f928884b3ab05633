package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetupMetricsExposesIntakeMetrics(t *testing.T) {
	handler, metrics := setupMetrics()
	if handler == nil || metrics == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	metrics.ObserveTransition("next", "ok")
	metrics.SetActiveForms(2)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "fichaclinica_intake_transitions_total") {
		t.Fatalf("expected transitions counter to be exported")
	}
	if !strings.Contains(body, "fichaclinica_intake_active_forms 2") {
		t.Fatalf("expected active forms gauge to be exported")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go runtime collectors")
	}
}

func TestSetupMetricsUsesFreshRegistry(t *testing.T) {
	// A second call must not panic on duplicate registration.
	setupMetrics()
	setupMetrics()
}

func TestPingFuncWithoutPool(t *testing.T) {
	if ping := pingFunc(nil); ping != nil {
		t.Fatalf("expected nil ping without a pool, got %v", ping(context.Background()))
	}
}
