// Package store defines the read-only boundary between the voice relay and
// the ERP data layer.
//
// The relay never mutates organizational data; it only reads the records that
// go into a session's context snapshot. The CRUD side of the application owns
// the schema — this package sees it through the narrow [OrgReader] interface
// so that the relay can be tested against the mock sub-package and deployed
// against the postgres sub-package.
package store

import (
	"context"
	"time"
)

// Settings holds the assistant-wide configuration maintained by the ERP side.
type Settings struct {
	// AIModel is the configured model name for non-live assistant calls.
	AIModel string

	// SystemPrompt is the operator-written base prompt for the assistant.
	SystemPrompt string
}

// KnowledgeFile is one entry of the knowledge corpus: an uploaded document
// with its extracted text content.
type KnowledgeFile struct {
	Name    string
	Content string
}

// Project is a summarized project record.
type Project struct {
	Title    string   `json:"title"`
	Status   string   `json:"status"`
	Progress int      `json:"progress"`
	Manager  string   `json:"manager"`
	Priority string   `json:"priority"`
	Budget   float64  `json:"budget"`
	Team     []string `json:"team"`
}

// Member is a summarized team member record.
type Member struct {
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Department string   `json:"department"`
	Skills     []string `json:"skills"`
	Status     string   `json:"status"`
}

// Report is a work report filed against a project.
type Report struct {
	Project string    `json:"project"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Content string    `json:"content"`
}

// TransactionKind discriminates finance transactions.
type TransactionKind string

const (
	TransactionIncome  TransactionKind = "income"
	TransactionExpense TransactionKind = "expense"
)

// Transaction is one finance ledger entry.
type Transaction struct {
	Kind        TransactionKind `json:"type"`
	Amount      float64         `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
}

// BusinessPlan is the most recent generated business plan document.
type BusinessPlan struct {
	Content   string
	UpdatedAt time.Time
}

// OrgReader is the read-only view of organizational data consumed when
// assembling a session's context snapshot. Implementations must be safe for
// concurrent use; the assembler issues all reads in parallel.
type OrgReader interface {
	// Settings returns the assistant settings. Implementations return zero
	// values, not an error, when no settings row exists yet.
	Settings(ctx context.Context) (Settings, error)

	// KnowledgeFiles returns all knowledge corpus entries.
	KnowledgeFiles(ctx context.Context) ([]KnowledgeFile, error)

	// Projects returns summarized project records.
	Projects(ctx context.Context) ([]Project, error)

	// Members returns summarized team member records.
	Members(ctx context.Context) ([]Member, error)

	// Reports returns filed work reports.
	Reports(ctx context.Context) ([]Report, error)

	// Transactions returns finance ledger entries in chronological order.
	Transactions(ctx context.Context) ([]Transaction, error)

	// LatestBusinessPlan returns the most recently updated business plan, or
	// nil when none has been generated.
	LatestBusinessPlan(ctx context.Context) (*BusinessPlan, error)
}
