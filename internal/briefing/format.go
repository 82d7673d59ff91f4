package briefing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neda-ai/neda/internal/store"
)

const (
	// DefaultPersona is used when no system prompt has been configured.
	DefaultPersona = "You are an intelligent ERP Assistant."

	// MaxKnowledgeChars caps the rendered knowledge corpus.
	MaxKnowledgeChars = 50_000

	// MaxPlanChars caps the rendered business plan.
	MaxPlanChars = 2_000

	// recentTransactions is the number of trailing ledger entries included
	// verbatim in the financial summary.
	recentTransactions = 10
)

// financialSummary is the JSON shape of the [FINANCIAL SUMMARY] section.
type financialSummary struct {
	Income       float64             `json:"income"`
	Expense      float64             `json:"expense"`
	Transactions []store.Transaction `json:"transactions"`
}

// Format renders a [Briefing] into the system instruction string. Sections
// are emitted in a fixed order so the model sees a stable document shape
// across sessions. The business plan and knowledge corpus are truncated to
// [MaxPlanChars] and [MaxKnowledgeChars] respectively.
func Format(b *Briefing) string {
	persona := b.Settings.SystemPrompt
	if persona == "" {
		persona = DefaultPersona
	}

	var sb strings.Builder
	sb.WriteString("SYSTEM PROMPT: ")
	sb.WriteString(persona)
	sb.WriteString("\n\n=== ORGANIZATIONAL DATA ===\n")

	sb.WriteString("\n[TEAM MEMBERS]\n")
	sb.WriteString(marshalList(b.Members))

	sb.WriteString("\n\n[PROJECTS]\n")
	sb.WriteString(marshalList(b.Projects))

	sb.WriteString("\n\n[REPORTS]\n")
	sb.WriteString(marshalList(b.Reports))

	sb.WriteString("\n\n[FINANCIAL SUMMARY]\n")
	sb.WriteString(marshalSection(summarizeFinance(b.Transactions)))

	sb.WriteString("\n\n[BUSINESS PLAN]\n")
	if b.Plan != nil {
		sb.WriteString(truncate(b.Plan.Content, MaxPlanChars))
	} else {
		sb.WriteString("Not Available")
	}

	sb.WriteString("\n\n=== KNOWLEDGE BASE (RAG) ===\n")
	sb.WriteString(truncate(renderKnowledge(b.Knowledge), MaxKnowledgeChars))

	return sb.String()
}

// summarizeFinance totals income and expense across the full ledger and keeps
// the trailing entries verbatim.
func summarizeFinance(txs []store.Transaction) financialSummary {
	sum := financialSummary{Transactions: []store.Transaction{}}
	for _, t := range txs {
		switch t.Kind {
		case store.TransactionIncome:
			sum.Income += t.Amount
		case store.TransactionExpense:
			sum.Expense += t.Amount
		}
	}
	if n := len(txs); n > recentTransactions {
		sum.Transactions = txs[n-recentTransactions:]
	} else if n > 0 {
		sum.Transactions = txs
	}
	return sum
}

// renderKnowledge concatenates all knowledge files with per-file headers.
func renderKnowledge(files []store.KnowledgeFile) string {
	parts := make([]string, 0, len(files))
	for _, f := range files {
		parts = append(parts, fmt.Sprintf("--- FILE: %s ---\n%s", f.Name, f.Content))
	}
	return strings.Join(parts, "\n\n")
}

// marshalList renders a slice as compact JSON, normalizing nil to [] so the
// document shape stays stable when a table is empty.
func marshalList[T any](s []T) string {
	if s == nil {
		s = []T{}
	}
	return marshalSection(s)
}

// marshalSection renders v as compact JSON. Marshal cannot fail for the
// section types used here; a failure would indicate a programming error.
func marshalSection(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// truncate cuts s to at most n runes without splitting a multi-byte sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
