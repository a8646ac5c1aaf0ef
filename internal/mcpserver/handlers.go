package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *VigilClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *VigilClient) *Handlers {
	return &Handlers{client: client}
}

// HandleScreenTransaction runs a transaction through the screening workflow.
func (h *Handlers) HandleScreenTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	transactionID := req.GetString("transaction_id", "")
	if transactionID == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	var raw json.RawMessage
	var err error
	if _, inline := req.GetArguments()["amount"]; inline {
		tx := map[string]any{
			"transaction_id":    transactionID,
			"amount":            req.GetFloat("amount", 0),
			"merchant_category": req.GetString("merchant_category", ""),
			"location":          req.GetString("location", ""),
			"hour":              req.GetInt("hour", 12),
			"velocity":          req.GetInt("velocity", 1),
			"from_account":      req.GetString("from_account", ""),
			"to_account":        req.GetString("to_account", ""),
		}
		raw, err = h.client.ScreenTransaction(ctx, tx)
	} else {
		raw, err = h.client.ScreenStored(ctx, transactionID)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Screening failed: %v", err)), nil
	}

	text, err := formatRun(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse screening result: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetInvestigations lists screening runs, or shows one in detail.
func (h *Handlers) HandleGetInvestigations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	transactionID := req.GetString("transaction_id", "")

	if transactionID != "" {
		raw, err := h.client.GetInvestigation(ctx, transactionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get investigation: %v", err)), nil
		}
		text, err := formatRun(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse investigation: %v", err)), nil
		}
		return mcp.NewToolResultText(text), nil
	}

	raw, err := h.client.ListInvestigations(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list investigations: %v", err)), nil
	}

	text, err := formatRunList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse investigations: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListTransactions browses stored transactions.
func (h *Handlers) HandleListTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	merchantCategory := req.GetString("merchant_category", "")
	fraudOnly := req.GetBool("fraud_only", false)
	minAmount := req.GetString("min_amount", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListTransactions(ctx, merchantCategory, fraudOnly, minAmount, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list transactions: %v", err)), nil
	}

	text, err := formatTransactionList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse transactions: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetPlatformMetrics returns the dashboard aggregates.
func (h *Handlers) HandleGetPlatformMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetPlatformMetrics(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get platform metrics: %v", err)), nil
	}

	text, err := formatMetrics(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse metrics: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGenerateSAR drafts a Suspicious Activity Report.
func (h *Handlers) HandleGenerateSAR(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	transactionID := req.GetString("transaction_id", "")
	if transactionID == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	raw, err := h.client.GenerateSAR(ctx, transactionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("SAR generation failed: %v", err)), nil
	}

	text, err := formatSAR(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse SAR report: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func formatRun(raw json.RawMessage) (string, error) {
	var run map[string]any
	if err := json.Unmarshal(raw, &run); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction: %s\n", getString(run, "transaction_id"))
	fmt.Fprintf(&sb, "Status: %s\n", getString(run, "status"))
	if errMsg := getString(run, "error"); errMsg != "" {
		fmt.Fprintf(&sb, "Error: %s\n", errMsg)
	}
	fmt.Fprintf(&sb, "Decision: %s\n", getString(run, "final_decision"))
	if reason := getString(run, "decision_reason"); reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", reason)
	}

	if a, ok := run["risk_assessment"].(map[string]any); ok {
		sb.WriteString("\nRisk Assessment:\n")
		if score, ok := getFloat(a, "risk_score"); ok {
			fmt.Fprintf(&sb, "  Score: %.2f (%s)\n", score, getString(a, "risk_level"))
		}
		if patterns := getStrings(a, "patterns"); len(patterns) > 0 {
			fmt.Fprintf(&sb, "  Patterns: %s\n", strings.Join(patterns, "; "))
		}
		if escalate, ok := a["escalate"].(bool); ok {
			fmt.Fprintf(&sb, "  Escalated: %v\n", escalate)
		}
	}

	if f, ok := run["investigation"].(map[string]any); ok {
		sb.WriteString("\nInvestigation:\n")
		fmt.Fprintf(&sb, "  Fraud likelihood: %s\n", getString(f, "fraud_likelihood"))
		fmt.Fprintf(&sb, "  Recommendation: %s\n", getString(f, "recommendation"))
		if conf, ok := getFloat(f, "confidence"); ok {
			fmt.Fprintf(&sb, "  Confidence: %.2f\n", conf)
		}
		if indicators := getStrings(f, "fraud_indicators"); len(indicators) > 0 {
			fmt.Fprintf(&sb, "  Indicators: %s\n", strings.Join(indicators, "; "))
		}
	}

	if c, ok := run["compliance"].(map[string]any); ok {
		sb.WriteString("\nCompliance:\n")
		if sar, ok := c["sar_required"].(bool); ok {
			fmt.Fprintf(&sb, "  SAR required: %v\n", sar)
		}
		if ctr, ok := c["ctr_required"].(bool); ok {
			fmt.Fprintf(&sb, "  CTR required: %v\n", ctr)
		}
		if rating := getString(c, "risk_rating"); rating != "" {
			fmt.Fprintf(&sb, "  Risk rating: %s\n", rating)
		}
		if summary := getString(c, "compliance_summary"); summary != "" {
			fmt.Fprintf(&sb, "  Summary: %s\n", summary)
		}
	}

	return sb.String(), nil
}

func formatRunList(raw json.RawMessage) (string, error) {
	var resp struct {
		Investigations []map[string]any `json:"investigations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected investigations response format")
	}

	if len(resp.Investigations) == 0 {
		return "No investigations recorded yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d investigation(s):\n\n", len(resp.Investigations))
	for i, run := range resp.Investigations {
		fmt.Fprintf(&sb, "%d. %s — %s (%s)\n", i+1,
			getString(run, "transaction_id"),
			getString(run, "final_decision"),
			getString(run, "status"))
		if reason := getString(run, "decision_reason"); reason != "" {
			fmt.Fprintf(&sb, "   %s\n", reason)
		}
	}
	return sb.String(), nil
}

func formatTransactionList(raw json.RawMessage) (string, error) {
	var resp struct {
		Transactions []map[string]any `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected transactions response format")
	}

	if len(resp.Transactions) == 0 {
		return "No transactions found matching your criteria.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d transaction(s):\n\n", len(resp.Transactions))
	for i, tx := range resp.Transactions {
		amount, _ := getFloat(tx, "amount")
		fmt.Fprintf(&sb, "%d. %s — $%.2f at %s\n", i+1,
			getString(tx, "transaction_id"), amount, getString(tx, "merchant_category"))
		fmt.Fprintf(&sb, "   Location: %s | Hour: %s | Velocity: %s\n",
			getString(tx, "location"), getString(tx, "hour"), getString(tx, "velocity"))
		if fraud, ok := tx["is_fraud"].(bool); ok && fraud {
			fmt.Fprintf(&sb, "   FLAGGED AS FRAUD: %s\n", getString(tx, "fraud_reason"))
		}
	}
	return sb.String(), nil
}

func formatMetrics(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	// Metrics may arrive nested under "metrics"
	if inner, ok := m["metrics"].(map[string]any); ok {
		m = inner
	}

	var sb strings.Builder
	sb.WriteString("Platform Metrics:\n")
	if v, ok := getFloat(m, "total_transactions"); ok {
		fmt.Fprintf(&sb, "  Total transactions: %.0f\n", v)
	}
	if v, ok := getFloat(m, "fraud_detected"); ok {
		fmt.Fprintf(&sb, "  Fraud detected: %.0f\n", v)
	}
	if v, ok := getFloat(m, "fraud_rate"); ok {
		fmt.Fprintf(&sb, "  Fraud rate: %.1f%%\n", v*100)
	}
	if v, ok := getFloat(m, "money_saved"); ok {
		fmt.Fprintf(&sb, "  Amount flagged: $%.2f\n", v)
	}
	if v, ok := getFloat(m, "high_risk_count"); ok {
		fmt.Fprintf(&sb, "  High-risk transactions: %.0f\n", v)
	}
	return sb.String(), nil
}

func formatSAR(raw json.RawMessage) (string, error) {
	var report map[string]any
	if err := json.Unmarshal(raw, &report); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s — %s\n", getString(report, "report_type"), getString(report, "transaction_id"))
	if pe := getString(report, "parse_error"); pe != "" {
		fmt.Fprintf(&sb, "Note: draft could not be fully structured (%s)\n", pe)
	}
	if fields, ok := report["fields"].(map[string]any); ok && len(fields) > 0 {
		fieldsJSON, err := json.MarshalIndent(fields, "", "  ")
		if err == nil {
			sb.WriteString("\n")
			sb.Write(fieldsJSON)
			sb.WriteString("\n")
			return sb.String(), nil
		}
	}
	fmt.Fprintf(&sb, "\n%s", formatJSON(raw))
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, rendering numbers as text.
func getString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	}
	return ""
}

// getFloat extracts a float64 value from a map.
func getFloat(m map[string]any, key string) (float64, bool) {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return f, true
		}
	}
	return 0, false
}

// getStrings extracts a string slice from a map.
func getStrings(m map[string]any, key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
