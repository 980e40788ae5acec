package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loykin/hylord/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var (
		receivedBody   []byte
		receivedURL    string
		receivedMethod string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "test-index")
	event := history.NewEvent(history.EventJoin, "hytale")
	event.Player, event.Identity = "Steve", "abc"
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if receivedMethod != http.MethodPut {
		t.Errorf("Expected PUT method, got: %s", receivedMethod)
	}
	if receivedURL != "/test-index/_doc/"+event.ID {
		t.Errorf("unexpected path %s", receivedURL)
	}
	var doc map[string]any
	if err := json.Unmarshal(receivedBody, &doc); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}
	if doc["type"] != "join" || doc["player"] != "Steve" || doc["identity"] != "abc" || doc["id"] != event.ID {
		t.Errorf("unexpected document %v", doc)
	}
	if _, ok := doc["pid"]; ok {
		t.Errorf("zero pid must be omitted: %v", doc)
	}
}

func TestOpenSearchSink_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	}))
	defer server.Close()

	err := New(server.URL, "test-index").Send(context.Background(), history.NewEvent(history.EventStart, "hytale"))
	if err == nil || !strings.Contains(err.Error(), "opensearch sink status 400") || !strings.Contains(err.Error(), "mapper_parsing_exception") {
		t.Fatalf("Expected status error, got: %v", err)
	}
}

func TestOpenSearchSink_ResendTargetsSameDocument(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := New(server.URL, "hylord")
	e := history.NewEvent(history.EventCrash, "hytale")
	for i := 0; i < 2; i++ {
		if err := sink.Send(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	if len(paths) != 2 || paths[0] != paths[1] {
		t.Fatalf("resend should hit the same document: %v", paths)
	}

	e.ID = ""
	if err := sink.Send(context.Background(), e); err == nil {
		t.Fatal("expected error for an event without id")
	}
	if len(paths) != 2 {
		t.Fatalf("event without id reached the server: %v", paths)
	}
}
