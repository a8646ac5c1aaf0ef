package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Vigil MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolScreenTransaction = mcp.NewTool("screen_transaction",
	mcp.WithDescription(
		"Run a transaction through the Vigil fraud screening workflow. "+
			"Assesses risk, escalates suspicious transactions through deep investigation "+
			"and compliance review, and returns the final decision (APPROVE/DECLINE/REVIEW) "+
			"with the full reasoning trail. Pass only transaction_id to screen a stored "+
			"transaction, or include the transaction fields to screen an ad-hoc one."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("Transaction identifier (e.g. 'TXN_000042')")),
	mcp.WithNumber("amount",
		mcp.Description("Transaction amount in USD. Providing this screens an inline transaction instead of a stored one.")),
	mcp.WithString("merchant_category",
		mcp.Description("Merchant category (e.g. 'Gift Cards', 'Grocery', 'Wire Transfer')")),
	mcp.WithString("location",
		mcp.Description("Transaction location (e.g. 'New York', 'Unknown', 'Foreign', 'VPN')")),
	mcp.WithNumber("hour",
		mcp.Description("Hour of day the transaction occurred (0-23)")),
	mcp.WithNumber("velocity",
		mcp.Description("Number of transactions from the account in the last hour")),
	mcp.WithString("from_account",
		mcp.Description("Source account identifier")),
	mcp.WithString("to_account",
		mcp.Description("Destination account identifier")),
)

var ToolGetInvestigations = mcp.NewTool("get_investigations",
	mcp.WithDescription(
		"Retrieve recorded screening runs from the Vigil investigation log. "+
			"Without a transaction_id, lists all runs; with one, returns the full detail "+
			"of that transaction's most recent run including the risk assessment, "+
			"investigation finding, and compliance outcome."),
	mcp.WithString("transaction_id",
		mcp.Description("Return the full run for this transaction instead of listing all runs")),
)

var ToolListTransactions = mcp.NewTool("list_transactions",
	mcp.WithDescription(
		"Browse transactions observed by the Vigil platform. "+
			"Supports filtering to known-fraud transactions, by merchant category, "+
			"and by minimum amount."),
	mcp.WithString("merchant_category",
		mcp.Description("Filter by merchant category (e.g. 'Crypto')")),
	mcp.WithBoolean("fraud_only",
		mcp.Description("Only return transactions flagged as fraud")),
	mcp.WithString("min_amount",
		mcp.Description("Minimum amount in USD (e.g. '5000')")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of transactions to return (default 20)")),
)

var ToolGetPlatformMetrics = mcp.NewTool("get_platform_metrics",
	mcp.WithDescription(
		"Get Vigil platform metrics: transaction volume, fraud detection counts "+
			"and rate, and the total amount flagged."),
)

var ToolGenerateSAR = mcp.NewTool("generate_sar_report",
	mcp.WithDescription(
		"Draft a Suspicious Activity Report (SAR) for a transaction that has "+
			"already been screened. The Compliance Officer agent produces a narrative "+
			"filing draft from the transaction and its investigation finding."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction to draft a SAR for. Must have been screened first.")),
)
