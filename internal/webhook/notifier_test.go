package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/funilcrm/backend/internal/board"
	"github.com/funilcrm/backend/internal/leads"
)

func moveEvent() board.MoveEvent {
	return board.MoveEvent{
		Lead:             leads.Lead{LeadID: "lead-1", Name: "Maria", Phone: "+5511999990000"},
		SubOriginID:      "origin-1",
		FromPipelineID:   "novo",
		ToPipelineID:     "quente",
		FromPipelineName: "Novo",
		ToPipelineName:   "Quente",
	}
}

func TestNewNotifierRequiresURL(t *testing.T) {
	if _, err := NewNotifier(NotifierConfig{}); err == nil {
		t.Fatal("expected error without url")
	}
}

func TestNotifyLeadMovedPostsPayload(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if contentType := r.Header.Get("Content-Type"); contentType != "application/json" {
			t.Errorf("unexpected content type %q", contentType)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewNotifier(NotifierConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := notifier.NotifyLeadMoved(context.Background(), moveEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received["trigger"] != "lead_moved" {
		t.Fatalf("unexpected trigger: %v", received["trigger"])
	}
	if received["pipeline_id"] != "quente" || received["previous_pipeline_id"] != "novo" {
		t.Fatalf("unexpected pipelines: %v -> %v", received["previous_pipeline_id"], received["pipeline_id"])
	}
	lead, ok := received["lead"].(map[string]any)
	if !ok || lead["lead_id"] != "lead-1" {
		t.Fatalf("unexpected lead payload: %v", received["lead"])
	}
}

func TestNotifyLeadMovedReportsRejectedDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier, err := NewNotifier(NotifierConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := notifier.NotifyLeadMoved(context.Background(), moveEvent()); err == nil {
		t.Fatal("expected delivery error for non-2xx status")
	}
}

func TestNotifyLeadMovedReportsConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	notifier, err := NewNotifier(NotifierConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := notifier.NotifyLeadMoved(context.Background(), moveEvent()); err == nil {
		t.Fatal("expected delivery error for closed server")
	}
}
