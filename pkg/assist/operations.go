package assist

import (
	"context"
	"fmt"
	"strings"

	"github.com/FACorreiaa/ledger-reconciler/internal/domain/common"
)

const (
	parseSystemPrompt = "You are an expert at parsing CSV files containing bank transaction data. " +
		"Extract all transactions and return them as a JSON array. Each transaction should have: " +
		"date (ISO format), description, amount (as float), balance (as float), transaction_type, " +
		"reference_number (optional). Handle various CSV formats and column names intelligently. " +
		"Return only valid JSON without any markdown formatting or code blocks."
	duplicateSystemPrompt = "You are an expert financial analyst. Analyze the given transactions and determine if they are duplicates."
	verifySystemPrompt    = "You are a financial transaction matching expert. Provide confidence scores for transaction matches."
)

const parseInstructions = `
Instructions:
1. Identify all transaction rows in the file
2. Extract for each transaction:
   - date: ISO format (YYYY-MM-DD)
   - description: transaction description or memo
   - amount: number, positive for credits and negative for debits
   - balance: running balance, if available
   - transaction_type: "credit" or "debit" (infer from the amount sign when unclear)
   - reference_number: any reference or check number (optional)
3. Skip header rows and non-transaction rows
4. Return a JSON array of transaction objects and nothing else
`

const duplicateInstructions = `
Respond in the following JSON format:
{
    "are_duplicates": true/false,
    "confidence": 0.0-1.0,
    "reasoning": "why these are or are not duplicates",
    "recommended_action": "merge" or "keep_separate"
}

Consider exact matches in amount, date and description, descriptions naming the same merchant,
same-day versus different-day timing, fee or adjustment sized amount differences, and categories
that were assigned automatically.
`

const verifyInstructions = `
Respond with a confidence score between 0.0 (definitely different) and 1.0 (definitely the same).
Allow for fees, processing delays, description formats, automatic categories and merchant name variations.
Response format: just the number (e.g., 0.85)
`

// ParseStatement asks the assistant to extract transactions from statement text.
func (c *Client) ParseStatement(ctx context.Context, text string) ([]map[string]string, error) {
	prompt := "Parse the following statement file and extract all bank transactions.\n\nFile content:\n" +
		text + "\n" + parseInstructions

	content, err := c.complete(ctx, "parse_statement", chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: parseSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   4000,
	})
	if err != nil {
		return nil, err
	}
	return DecodeRecordList(content), nil
}

// ConfirmDuplicates asks whether the records of one candidate group are duplicates.
func (c *Client) ConfirmDuplicates(ctx context.Context, group []*common.BankRecord) (common.DuplicateVerdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following %d transactions and determine if they are duplicates:\n", len(group))
	for i, rec := range group {
		fmt.Fprintf(&b, "\nTransaction %d:\n- ID: %s\n- Date: %s\n- Description: %s\n- Amount: %s\n- Category: %s\n- Merchant: %s\n",
			i+1, rec.ID, rec.Date.Format("2006-01-02"), rec.Description, rec.Amount.StringFixed(2), rec.Category, rec.MerchantName)
	}
	b.WriteString(duplicateInstructions)

	content, err := c.complete(ctx, "confirm_duplicates", chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: duplicateSystemPrompt},
			{Role: "user", Content: b.String()},
		},
		Temperature: 0.1,
		MaxTokens:   500,
	})
	if err != nil {
		return common.DuplicateVerdict{}, err
	}
	return DecodeVerdict(content), nil
}

// VerifyMatch asks for a confidence that a ledger and a bank record are the same transaction.
func (c *Client) VerifyMatch(ctx context.Context, ledger *common.LedgerRecord, bank *common.BankRecord) (float64, error) {
	prompt := fmt.Sprintf(`Analyze if these two transactions are the same transaction:

Transaction 1 (Ledger):
- Date: %s
- Amount: %s
- Description: %s
- Category: %s
- Merchant: %s

Transaction 2 (Bank):
- Date: %s
- Amount: %s
- Description: %s
- Category: %s
- Merchant: %s
%s`,
		ledger.TransactionDate.Format("2006-01-02"), ledger.Amount.StringFixed(2), ledger.Description, ledger.Category, ledger.MerchantName,
		bank.Date.Format("2006-01-02"), bank.Amount.StringFixed(2), bank.Description, bank.Category, bank.MerchantName,
		verifyInstructions)

	content, err := c.complete(ctx, "verify_match", chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: verifySystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   10,
	})
	if err != nil {
		return neutralConfidence, err
	}
	return DecodeConfidence(content), nil
}
