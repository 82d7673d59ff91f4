// Package mock provides a configurable in-memory store.OrgReader for tests.
package mock

import (
	"context"

	"github.com/neda-ai/neda/internal/store"
)

// Compile-time interface check.
var _ store.OrgReader = (*Reader)(nil)

// Reader implements store.OrgReader from fixed fields. Any Err field set to a
// non-nil value is returned by the corresponding method instead of the data.
type Reader struct {
	SettingsVal     store.Settings
	SettingsErr     error
	Knowledge       []store.KnowledgeFile
	KnowledgeErr    error
	ProjectList     []store.Project
	ProjectsErr     error
	MemberList      []store.Member
	MembersErr      error
	ReportList      []store.Report
	ReportsErr      error
	TransactionList []store.Transaction
	TransactionsErr error
	Plan            *store.BusinessPlan
	PlanErr         error
}

func (r *Reader) Settings(ctx context.Context) (store.Settings, error) {
	return r.SettingsVal, r.SettingsErr
}

func (r *Reader) KnowledgeFiles(ctx context.Context) ([]store.KnowledgeFile, error) {
	return r.Knowledge, r.KnowledgeErr
}

func (r *Reader) Projects(ctx context.Context) ([]store.Project, error) {
	return r.ProjectList, r.ProjectsErr
}

func (r *Reader) Members(ctx context.Context) ([]store.Member, error) {
	return r.MemberList, r.MembersErr
}

func (r *Reader) Reports(ctx context.Context) ([]store.Report, error) {
	return r.ReportList, r.ReportsErr
}

func (r *Reader) Transactions(ctx context.Context) ([]store.Transaction, error) {
	return r.TransactionList, r.TransactionsErr
}

func (r *Reader) LatestBusinessPlan(ctx context.Context) (*store.BusinessPlan, error) {
	return r.Plan, r.PlanErr
}
