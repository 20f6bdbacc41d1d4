package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bitmerchant/clerk/internal/clerk/assistant"
	"github.com/bitmerchant/clerk/internal/clerk/catalog"
	"github.com/bitmerchant/clerk/internal/clerk/commands"
	"github.com/bitmerchant/clerk/internal/clerk/engine"
	"github.com/bitmerchant/clerk/internal/clerk/safety"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mem := catalog.NewMemory()
	mem.Seed(catalog.Item{
		ID: "101", Title: "Blue Mug", Vendor: "MugCo", Category: "Kitchen",
		Status:   catalog.StatusActive,
		Variants: []catalog.Variant{{ID: "101-1", SKU: "MUG-BLUE", Price: 10.00, Inventory: 5}},
	})

	repo := engine.NewMemoryRepository()
	validator := safety.NewValidator(safety.Limits{}, repo)
	eng := engine.New(repo, validator, commands.New(mem, commands.Config{}), engine.Config{})
	storeInfo := safety.StoreInfo{Name: "Mug Emporium"}
	asst := assistant.New(eng, nil, mem, storeInfo)

	srv := New(asst, eng, storeInfo, []string{
		"catalog.read", "catalog.write", "catalog.create", "catalog.delete", "catalog.bulk",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestMessageEndpointExecutes(t *testing.T) {
	ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"user_id": "u1",
		"message": "update Blue Mug price to $14.99",
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["mode"] != "action" || body["status"] != "completed" {
		t.Errorf("body = %v, want a completed action", body)
	}
	if resp.Header.Get("X-Trace-ID") == "" {
		t.Error("responses must carry a trace id")
	}
}

func TestConfirmFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	_, body := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"user_id": "u1",
		"message": "delete the Blue Mug",
	})
	if body["status"] != "awaiting_confirmation" {
		t.Fatalf("body = %v, want awaiting_confirmation", body)
	}
	id, _ := body["execution_id"].(string)
	if id == "" {
		t.Fatal("no execution_id in reply")
	}

	resp, confirmed := postJSON(t, fmt.Sprintf("%s/v1/executions/%s/confirm", ts.URL, id),
		map[string]any{"confirmed": true})
	if resp.StatusCode != http.StatusOK || confirmed["status"] != "completed" {
		t.Fatalf("confirm: status=%d body=%v", resp.StatusCode, confirmed)
	}

	// The execution record is fetchable afterwards.
	getResp, err := http.Get(fmt.Sprintf("%s/v1/executions/%s", ts.URL, id))
	if err != nil {
		t.Fatalf("GET execution: %v", err)
	}
	defer getResp.Body.Close()
	var ex map[string]any
	json.NewDecoder(getResp.Body).Decode(&ex)
	if ex["status"] != "completed" || ex["confirmed"] != true {
		t.Errorf("execution = %v", ex)
	}
}

func TestCancelEndpoint(t *testing.T) {
	ts := newTestServer(t)

	_, body := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"user_id": "u1",
		"message": "delete the Blue Mug",
	})
	id, _ := body["execution_id"].(string)

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/executions/%s", ts.URL, id), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// A second cancel conflicts: the execution is already terminal.
	req2, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/executions/%s", ts.URL, id), nil)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("second DELETE: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", resp2.StatusCode)
	}
}

func TestMessageEndpointValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := postJSON(t, ts.URL+"/v1/messages", map[string]any{"message": "hello"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing user_id: status = %d, want 400", resp.StatusCode)
	}

	malformed, err := http.Post(ts.URL+"/v1/messages", "application/json",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer malformed.Body.Close()
	if malformed.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed JSON: status = %d, want 400", malformed.StatusCode)
	}
}

func TestUnknownExecution(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/executions/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatsAndHealth(t *testing.T) {
	ts := newTestServer(t)

	postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"user_id": "u1",
		"message": "update Blue Mug price to $14.99",
	})

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()
	var stats map[string]any
	json.NewDecoder(resp.Body).Decode(&stats)
	if stats["total"] != float64(1) {
		t.Errorf("stats = %v, want total 1", stats)
	}

	health, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", health.StatusCode)
	}
}
