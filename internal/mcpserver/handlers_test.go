package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewVigilClient(Config{APIURL: ts.URL})
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func sampleRun() map[string]any {
	return map[string]any{
		"transaction_id":  "TXN_001",
		"status":          "completed",
		"final_decision":  "DECLINE",
		"decision_reason": "High fraud likelihood. Key indicators: stolen card, odd hours",
		"risk_assessment": map[string]any{
			"risk_score": 0.85,
			"risk_level": "Critical",
			"patterns":   []string{"Large transaction amount", "Transaction at unusual hours"},
			"escalate":   true,
		},
		"investigation": map[string]any{
			"fraud_likelihood": "High",
			"recommendation":   "DECLINE",
			"confidence":       0.9,
			"fraud_indicators": []string{"stolen card", "odd hours"},
		},
		"compliance": map[string]any{
			"sar_required":       true,
			"ctr_required":       false,
			"risk_rating":        "High",
			"compliance_summary": "1 filing(s) required.",
		},
	}
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "not_found",
			"message": "Transaction TXN_X not found",
		})
	}))
	defer ts.Close()

	client := NewVigilClient(Config{APIURL: ts.URL})
	_, err := client.GetInvestigation(context.Background(), "TXN_X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "Transaction TXN_X not found")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewVigilClient(Config{APIURL: ts.URL})
	_, err := client.GetPlatformMetrics(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewVigilClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.GetPlatformMetrics(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_DoRequest_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewVigilClient(Config{APIURL: ts.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	_, err := client.GetPlatformMetrics(ctx)
	require.Error(t, err)
}

func TestClient_ScreenTransaction_RequestBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/investigate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		tx, ok := m["transaction"].(map[string]any)
		require.True(t, ok, "expected transaction object in body")
		assert.Equal(t, "TXN_5", tx["transaction_id"])
		assert.Equal(t, 7500.0, tx["amount"])

		_ = json.NewEncoder(w).Encode(sampleRun())
	}))
	defer ts.Close()

	client := NewVigilClient(Config{APIURL: ts.URL})
	_, err := client.ScreenTransaction(context.Background(), map[string]any{
		"transaction_id": "TXN_5",
		"amount":         7500.0,
	})
	require.NoError(t, err)
}

func TestClient_ScreenStored_RequestBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, "TXN_9", m["transaction_id"])
		_, hasInline := m["transaction"]
		assert.False(t, hasInline, "stored screening should not send an inline transaction")

		_ = json.NewEncoder(w).Encode(sampleRun())
	}))
	defer ts.Close()

	client := NewVigilClient(Config{APIURL: ts.URL})
	_, err := client.ScreenStored(context.Background(), "TXN_9")
	require.NoError(t, err)
}

func TestClient_ListTransactions_QueryParams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Crypto", r.URL.Query().Get("merchant_category"))
		assert.Equal(t, "true", r.URL.Query().Get("is_fraud"))
		assert.Equal(t, "5000", r.URL.Query().Get("min_amount"))
		assert.Equal(t, "10", r.URL.Query().Get("page_size"))
		_, _ = w.Write([]byte(`{"transactions":[],"count":0}`))
	}))
	defer ts.Close()

	client := NewVigilClient(Config{APIURL: ts.URL})
	_, err := client.ListTransactions(context.Background(), "Crypto", true, "5000", 10)
	require.NoError(t, err)
}

func TestClient_ListTransactions_EmptyParams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("merchant_category"))
		assert.Empty(t, r.URL.Query().Get("is_fraud"))
		assert.Empty(t, r.URL.Query().Get("page_size"), "limit=0 should not be sent")
		_, _ = w.Write([]byte(`{"transactions":[],"count":0}`))
	}))
	defer ts.Close()

	client := NewVigilClient(Config{APIURL: ts.URL})
	_, err := client.ListTransactions(context.Background(), "", false, "", 0)
	require.NoError(t, err)
}

func TestClient_GenerateSAR_Path(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/investigations/TXN_7/sar", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"report_type":    "SAR",
			"transaction_id": "TXN_7",
			"fields":         map[string]any{"subject": "ACC0001"},
		})
	}))
	defer ts.Close()

	client := NewVigilClient(Config{APIURL: ts.URL})
	_, err := client.GenerateSAR(context.Background(), "TXN_7")
	require.NoError(t, err)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleScreenTransaction_RequiresID(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer closeFn()

	result, err := h.HandleScreenTransaction(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "transaction_id is required")
}

func TestHandleScreenTransaction_Inline(t *testing.T) {
	var gotBody map[string]any
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_ = json.NewEncoder(w).Encode(sampleRun())
	}))
	defer closeFn()

	result, err := h.HandleScreenTransaction(context.Background(), makeRequest(map[string]any{
		"transaction_id":    "TXN_001",
		"amount":            7500.0,
		"merchant_category": "Gift Cards",
		"location":          "Unknown",
		"hour":              2.0,
		"velocity":          8.0,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	// Presence of amount routes to inline screening
	tx, ok := gotBody["transaction"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Gift Cards", tx["merchant_category"])

	text := resultText(t, result)
	assert.Contains(t, text, "Transaction: TXN_001")
	assert.Contains(t, text, "Decision: DECLINE")
	assert.Contains(t, text, "Score: 0.85 (Critical)")
	assert.Contains(t, text, "Fraud likelihood: High")
	assert.Contains(t, text, "SAR required: true")
}

func TestHandleScreenTransaction_Stored(t *testing.T) {
	var gotBody map[string]any
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_ = json.NewEncoder(w).Encode(sampleRun())
	}))
	defer closeFn()

	result, err := h.HandleScreenTransaction(context.Background(), makeRequest(map[string]any{
		"transaction_id": "TXN_001",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "TXN_001", gotBody["transaction_id"])
	_, hasInline := gotBody["transaction"]
	assert.False(t, hasInline)
}

func TestHandleScreenTransaction_APIError(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "not_found", "message": "Transaction TXN_404 not found"})
	}))
	defer closeFn()

	result, err := h.HandleScreenTransaction(context.Background(), makeRequest(map[string]any{
		"transaction_id": "TXN_404",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Screening failed")
	assert.Contains(t, resultText(t, result), "TXN_404 not found")
}

func TestHandleGetInvestigations_List(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/investigations", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"investigations": []map[string]any{
				{"transaction_id": "TXN_A", "final_decision": "APPROVE", "status": "completed", "decision_reason": "Risk score 0.10 below escalation threshold - transaction approved"},
				{"transaction_id": "TXN_B", "final_decision": "DECLINE", "status": "completed"},
			},
			"count": 2,
		})
	}))
	defer closeFn()

	result, err := h.HandleGetInvestigations(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 investigation(s)")
	assert.Contains(t, text, "TXN_A — APPROVE (completed)")
	assert.Contains(t, text, "TXN_B — DECLINE (completed)")
}

func TestHandleGetInvestigations_Empty(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"investigations":[],"count":0}`))
	}))
	defer closeFn()

	result, err := h.HandleGetInvestigations(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No investigations recorded yet.", resultText(t, result))
}

func TestHandleGetInvestigations_Detail(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/investigations/TXN_001", r.URL.Path)
		_ = json.NewEncoder(w).Encode(sampleRun())
	}))
	defer closeFn()

	result, err := h.HandleGetInvestigations(context.Background(), makeRequest(map[string]any{
		"transaction_id": "TXN_001",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Transaction: TXN_001")
	assert.Contains(t, text, "Indicators: stolen card; odd hours")
	assert.Contains(t, text, "Risk rating: High")
}

func TestHandleListTransactions(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transactions": []map[string]any{
				{
					"transaction_id":    "TXN_1",
					"amount":            12500.0,
					"merchant_category": "Wire Transfer",
					"location":          "Foreign",
					"hour":              3,
					"velocity":          7,
					"is_fraud":          true,
					"fraud_reason":      "Account takeover pattern",
				},
				{
					"transaction_id":    "TXN_2",
					"amount":            42.5,
					"merchant_category": "Grocery",
					"location":          "New York",
					"hour":              14,
					"velocity":          1,
				},
			},
			"count": 2,
		})
	}))
	defer closeFn()

	result, err := h.HandleListTransactions(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 transaction(s)")
	assert.Contains(t, text, "TXN_1 — $12500.00 at Wire Transfer")
	assert.Contains(t, text, "FLAGGED AS FRAUD: Account takeover pattern")
	assert.Contains(t, text, "TXN_2 — $42.50 at Grocery")
	assert.NotContains(t, text, "TXN_2 — $42.50 at Grocery\n   FLAGGED")
}

func TestHandleListTransactions_Empty(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transactions":[],"count":0}`))
	}))
	defer closeFn()

	result, err := h.HandleListTransactions(context.Background(), makeRequest(map[string]any{
		"merchant_category": "Jewelry",
	}))
	require.NoError(t, err)
	assert.Equal(t, "No transactions found matching your criteria.", resultText(t, result))
}

func TestHandleGetPlatformMetrics(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/metrics", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"metrics": map[string]any{
				"total_transactions": 120,
				"fraud_detected":     18,
				"fraud_rate":         0.15,
				"money_saved":        93250.75,
				"high_risk_count":    9,
			},
		})
	}))
	defer closeFn()

	result, err := h.HandleGetPlatformMetrics(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Total transactions: 120")
	assert.Contains(t, text, "Fraud rate: 15.0%")
	assert.Contains(t, text, "Amount flagged: $93250.75")
}

func TestHandleGenerateSAR(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"agent":          "Compliance Officer",
			"report_type":    "SAR",
			"transaction_id": "TXN_7",
			"fields": map[string]any{
				"subject":          "ACC0001",
				"suspect_activity": "Structuring below reporting threshold",
			},
		})
	}))
	defer closeFn()

	result, err := h.HandleGenerateSAR(context.Background(), makeRequest(map[string]any{
		"transaction_id": "TXN_7",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "SAR — TXN_7")
	assert.Contains(t, text, "Structuring below reporting threshold")
}

func TestHandleGenerateSAR_RequiresID(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer closeFn()

	result, err := h.HandleGenerateSAR(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "transaction_id is required")
}

func TestHandleGenerateSAR_UpstreamFailure(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "sar_generation_failed", "message": "reasoning client disabled"})
	}))
	defer closeFn()

	result, err := h.HandleGenerateSAR(context.Background(), makeRequest(map[string]any{
		"transaction_id": "TXN_7",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "SAR generation failed")
}
