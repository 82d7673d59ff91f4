// Package briefing assembles the organizational briefing injected as the
// system instruction for every voice session.
//
// The briefing consists of seven components fetched concurrently from the ERP
// store: assistant settings, knowledge files, projects, team members, reports,
// the finance ledger, and the latest business plan. Use [Format] to convert an
// assembled [Briefing] into the instruction string handed to the speech
// provider.
package briefing

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neda-ai/neda/internal/store"
)

// ─────────────────────────────────────────────────────────────────────────────
// Public types
// ─────────────────────────────────────────────────────────────────────────────

// Briefing is the assembled organizational snapshot for one session. Slices
// may be empty and Plan may be nil — callers should check before using.
type Briefing struct {
	// Settings holds the operator-configured assistant settings. SystemPrompt
	// may be empty, in which case [Format] substitutes a default persona.
	Settings store.Settings

	// Knowledge is the full knowledge corpus. [Format] truncates the rendered
	// corpus, not the slice.
	Knowledge []store.KnowledgeFile

	Projects     []store.Project
	Members      []store.Member
	Reports      []store.Report
	Transactions []store.Transaction

	// Plan is the most recent business plan, or nil when none exists.
	Plan *store.BusinessPlan

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// ─────────────────────────────────────────────────────────────────────────────
// Assembler
// ─────────────────────────────────────────────────────────────────────────────

// Assembler concurrently fetches all briefing components from an
// [store.OrgReader] and combines them into a [Briefing].
type Assembler struct {
	reader store.OrgReader
}

// NewAssembler creates an [Assembler] backed by reader.
func NewAssembler(reader store.OrgReader) *Assembler {
	return &Assembler{reader: reader}
}

// Assemble fetches all seven briefing components in parallel via errgroup and
// returns a fully populated [Briefing]. If any fetch fails, assembly is
// aborted and that error is returned wrapped with a "briefing: " prefix.
//
// Assemble respects context cancellation on all underlying reads.
func (a *Assembler) Assemble(ctx context.Context) (*Briefing, error) {
	start := time.Now()

	b := &Briefing{}
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		s, err := a.reader.Settings(egCtx)
		if err != nil {
			return fmt.Errorf("briefing: settings: %w", err)
		}
		b.Settings = s
		return nil
	})

	eg.Go(func() error {
		files, err := a.reader.KnowledgeFiles(egCtx)
		if err != nil {
			return fmt.Errorf("briefing: knowledge files: %w", err)
		}
		b.Knowledge = files
		return nil
	})

	eg.Go(func() error {
		projects, err := a.reader.Projects(egCtx)
		if err != nil {
			return fmt.Errorf("briefing: projects: %w", err)
		}
		b.Projects = projects
		return nil
	})

	eg.Go(func() error {
		members, err := a.reader.Members(egCtx)
		if err != nil {
			return fmt.Errorf("briefing: members: %w", err)
		}
		b.Members = members
		return nil
	})

	eg.Go(func() error {
		reports, err := a.reader.Reports(egCtx)
		if err != nil {
			return fmt.Errorf("briefing: reports: %w", err)
		}
		b.Reports = reports
		return nil
	})

	eg.Go(func() error {
		txs, err := a.reader.Transactions(egCtx)
		if err != nil {
			return fmt.Errorf("briefing: transactions: %w", err)
		}
		b.Transactions = txs
		return nil
	})

	eg.Go(func() error {
		plan, err := a.reader.LatestBusinessPlan(egCtx)
		if err != nil {
			return fmt.Errorf("briefing: latest business plan: %w", err)
		}
		b.Plan = plan
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	b.AssemblyDuration = time.Since(start)
	return b, nil
}

// Instructions assembles a fresh briefing and renders it with [Format]. This
// is the one-call form used when the caller does not need the structured
// [Briefing].
func (a *Assembler) Instructions(ctx context.Context) (string, error) {
	b, err := a.Assemble(ctx)
	if err != nil {
		return "", err
	}
	return Format(b), nil
}
