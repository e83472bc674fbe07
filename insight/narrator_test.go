package insight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fakeCompletionServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Bearer ") {
			t.Errorf("missing bearer auth, got %q", auth)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) != 1 {
			t.Errorf("messages = %d, want 1", len(req.Messages))
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
}

func testRequest() Request {
	return Request{
		ChurnedUsers:     1869,
		ChurnRateOverall: 0.2654,
		AvgTenure:        32.4,
		AvgMonthly:       64.8,
		ContractChurn:    map[string]float64{"Month-to-month": 0.4271},
		TopFeatures:      map[string]float64{"contract_Two year": -1.2},
	}
}

func TestGenerate(t *testing.T) {
	srv := fakeCompletionServer(t, "Key findings: churn concentrates in month-to-month contracts.", http.StatusOK)
	defer srv.Close()

	n := NewNarrator("test-key", "deepseek-chat", srv.URL, 5*time.Second, 500)
	result, err := n.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Insights, "month-to-month") {
		t.Errorf("insights = %q", result.Insights)
	}
	if result.Metadata.ModelUsed != "deepseek-chat" {
		t.Errorf("model_used = %q", result.Metadata.ModelUsed)
	}
	// 4 headline metrics + 1 contract entry + 1 feature.
	if result.Metadata.DataPointsAnalyzed != 6 {
		t.Errorf("data_points_analyzed = %d, want 6", result.Metadata.DataPointsAnalyzed)
	}
	if result.Metadata.PromptLength == 0 {
		t.Error("prompt_length missing")
	}
}

func TestGenerateStripsCodeFence(t *testing.T) {
	srv := fakeCompletionServer(t, "```markdown\nSome analysis text.\n```", http.StatusOK)
	defer srv.Close()

	n := NewNarrator("test-key", "", srv.URL, 5*time.Second, 0)
	result, err := n.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if result.Insights != "Some analysis text." {
		t.Errorf("insights = %q, want fences stripped", result.Insights)
	}
}

func TestGenerateMissingAPIKey(t *testing.T) {
	n := NewNarrator("", "", "http://unused", time.Second, 0)
	if _, err := n.Generate(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "rate limited"},
		})
	}))
	defer srv.Close()

	n := NewNarrator("test-key", "", srv.URL, time.Second, 0)
	_, err := n.Generate(context.Background(), testRequest())
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want api error message surfaced", err)
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plain text", "plain text"},
		{"```\nfenced\n```", "fenced"},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```\npadded\n```  ", "padded"},
	}
	for _, c := range cases {
		if got := stripFences(c.in); got != c.want {
			t.Errorf("stripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
