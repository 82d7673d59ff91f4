package briefing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neda-ai/neda/internal/store"
	"github.com/neda-ai/neda/internal/store/mock"
)

func TestAssembleCollectsAllComponents(t *testing.T) {
	t.Parallel()

	reader := &mock.Reader{
		SettingsVal: store.Settings{SystemPrompt: "Be concise."},
		Knowledge:   []store.KnowledgeFile{{Name: "handbook.md", Content: "PTO policy"}},
		ProjectList: []store.Project{{Title: "Atlas", Status: "active"}},
		MemberList:  []store.Member{{Name: "Dana", Role: "PM"}},
		ReportList:  []store.Report{{Project: "Atlas", Author: "Dana"}},
		TransactionList: []store.Transaction{
			{Kind: store.TransactionIncome, Amount: 100},
		},
		Plan: &store.BusinessPlan{Content: "expand"},
	}

	b, err := NewAssembler(reader).Assemble(context.Background())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if b.Settings.SystemPrompt != "Be concise." {
		t.Errorf("settings prompt = %q", b.Settings.SystemPrompt)
	}
	if len(b.Knowledge) != 1 || len(b.Projects) != 1 || len(b.Members) != 1 ||
		len(b.Reports) != 1 || len(b.Transactions) != 1 {
		t.Errorf("unexpected component counts: %+v", b)
	}
	if b.Plan == nil || b.Plan.Content != "expand" {
		t.Errorf("plan = %+v", b.Plan)
	}
	if b.AssemblyDuration <= 0 {
		t.Error("assembly duration not recorded")
	}
}

func TestAssemblePropagatesReadErrors(t *testing.T) {
	t.Parallel()

	reader := &mock.Reader{ProjectsErr: errors.New("connection refused")}

	_, err := NewAssembler(reader).Assemble(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "briefing: projects") {
		t.Errorf("error = %v, want briefing: projects prefix", err)
	}
}

func TestFormatSectionOrder(t *testing.T) {
	t.Parallel()

	b := &Briefing{
		Settings: store.Settings{SystemPrompt: "Be concise."},
		Members:  []store.Member{{Name: "Dana"}},
		Plan:     &store.BusinessPlan{Content: "expand to EU"},
		Knowledge: []store.KnowledgeFile{
			{Name: "handbook.md", Content: "PTO policy"},
		},
	}

	doc := Format(b)

	sections := []string{
		"SYSTEM PROMPT: Be concise.",
		"=== ORGANIZATIONAL DATA ===",
		"[TEAM MEMBERS]",
		"[PROJECTS]",
		"[REPORTS]",
		"[FINANCIAL SUMMARY]",
		"[BUSINESS PLAN]",
		"expand to EU",
		"=== KNOWLEDGE BASE (RAG) ===",
		"--- FILE: handbook.md ---",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(doc, s)
		if idx < 0 {
			t.Fatalf("section %q missing from document", s)
		}
		if idx < last {
			t.Errorf("section %q out of order", s)
		}
		last = idx
	}
	if !strings.Contains(doc, `"name":"Dana"`) {
		t.Errorf("member not rendered as JSON:\n%s", doc)
	}
}

func TestFormatDefaultPersona(t *testing.T) {
	t.Parallel()

	doc := Format(&Briefing{})
	if !strings.Contains(doc, "SYSTEM PROMPT: "+DefaultPersona) {
		t.Errorf("default persona missing:\n%s", doc)
	}
	if !strings.Contains(doc, "Not Available") {
		t.Error("missing business plan placeholder")
	}
	// Empty tables render as [] so the document shape stays stable.
	if !strings.Contains(doc, "[TEAM MEMBERS]\n[]") {
		t.Error("empty member table not rendered as []")
	}
}

func TestFormatFinanceSummary(t *testing.T) {
	t.Parallel()

	txs := make([]store.Transaction, 0, 12)
	for i := 0; i < 12; i++ {
		kind := store.TransactionIncome
		amount := 10.0
		if i%2 == 1 {
			kind = store.TransactionExpense
			amount = 4.0
		}
		txs = append(txs, store.Transaction{
			Kind:        kind,
			Amount:      amount,
			Date:        time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC),
			Description: "tx",
		})
	}

	sum := summarizeFinance(txs)
	if sum.Income != 60 {
		t.Errorf("income = %v, want 60", sum.Income)
	}
	if sum.Expense != 24 {
		t.Errorf("expense = %v, want 24", sum.Expense)
	}
	if len(sum.Transactions) != recentTransactions {
		t.Fatalf("kept %d transactions, want %d", len(sum.Transactions), recentTransactions)
	}
	// The trailing entries are kept, so the first two are dropped.
	if !sum.Transactions[0].Date.Equal(txs[2].Date) {
		t.Errorf("first kept transaction = %v, want %v", sum.Transactions[0].Date, txs[2].Date)
	}
}

func TestFormatTruncatesPlanAndKnowledge(t *testing.T) {
	t.Parallel()

	b := &Briefing{
		Plan: &store.BusinessPlan{Content: strings.Repeat("p", MaxPlanChars+500)},
		Knowledge: []store.KnowledgeFile{
			{Name: "big.md", Content: strings.Repeat("k", MaxKnowledgeChars+500)},
		},
	}

	doc := Format(b)
	if strings.Contains(doc, strings.Repeat("p", MaxPlanChars+1)) {
		t.Error("business plan not truncated")
	}
	if !strings.Contains(doc, strings.Repeat("p", MaxPlanChars)) {
		t.Error("business plan truncated too short")
	}
	if strings.Contains(doc, strings.Repeat("k", MaxKnowledgeChars+1)) {
		t.Error("knowledge corpus not truncated")
	}
}

func TestTruncateRuneSafe(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("é", 10)
	got := truncate(s, 4)
	if got != strings.Repeat("é", 4) {
		t.Errorf("truncate = %q", got)
	}
	if truncate("short", 100) != "short" {
		t.Error("truncate altered a string under the cap")
	}
}
