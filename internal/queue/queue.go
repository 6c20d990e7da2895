// Package queue derives the reviewer assignment order from registry state.
// Nothing here is stored: every caller ranks the snapshot it just read.
package queue

import (
	"sort"

	"github.com/3eLLenKa/reviewdesk/internal/domain"
)

// Policy decides whether a ranked reviewer may receive a new assignment.
type Policy string

const (
	// PolicyShare keeps busy reviewers assignable.
	PolicyShare Policy = "share"
	// PolicyExclusive skips busy reviewers; an assignment marks its reviewer busy.
	PolicyExclusive Policy = "exclusive"
)

func (p Policy) Valid() bool {
	return p == PolicyShare || p == PolicyExclusive
}

// Assignable reports whether r can take a new project under the policy.
func (p Policy) Assignable(r domain.Reviewer) bool {
	if !r.InQueue() {
		return false
	}
	if p == PolicyExclusive && r.Status == domain.StatusBusy {
		return false
	}
	return true
}

// Rank returns the queue: reviewer-role entities that are not unavailable,
// sorted by rank, then pending workload, then id. Priority is set to the
// 1-based position.
func Rank(reviewers []domain.Reviewer) []domain.Reviewer {
	ranked := make([]domain.Reviewer, 0, len(reviewers))
	for _, r := range reviewers {
		if r.InQueue() {
			ranked = append(ranked, r)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		if a.PendingPageDelta != b.PendingPageDelta {
			return a.PendingPageDelta < b.PendingPageDelta
		}
		return a.ID < b.ID
	})

	for i := range ranked {
		ranked[i].Priority = i + 1
	}
	return ranked
}

// Order lists every reviewer for display: the queue first, then the rest by
// id with Priority 0. With reviewersOnly set, author-role entities are dropped.
func Order(reviewers []domain.Reviewer, reviewersOnly bool) []domain.Reviewer {
	out := Rank(reviewers)

	rest := make([]domain.Reviewer, 0, len(reviewers)-len(out))
	for _, r := range reviewers {
		if r.InQueue() {
			continue
		}
		if reviewersOnly && r.Role != domain.RoleReviewer {
			continue
		}
		r.Priority = 0
		rest = append(rest, r)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].ID < rest[j].ID })

	return append(out, rest...)
}

// Next picks the first ranked reviewer other than excluding that the policy
// allows. It never returns excluding, even when that reviewer is the only one
// left. Skipped holds the ids ranked ahead of the pick that were passed over,
// the excluded one included; they keep their rank for the next round. A nil
// reviewer means nobody is currently assignable.
func Next(ranked []domain.Reviewer, excluding string, policy Policy) (*domain.Reviewer, []string) {
	var skipped []string
	for i := range ranked {
		r := ranked[i]
		if r.ID == excluding || !policy.Assignable(r) {
			skipped = append(skipped, r.ID)
			continue
		}
		return &r, skipped
	}
	return nil, nil
}

// NextRank is the rank that moves a reviewer behind every other
// reviewer-role entry, unavailable ones included. Authors do not count.
func NextRank(reviewers []domain.Reviewer) int64 {
	var max int64
	seen := false
	for _, r := range reviewers {
		if r.Role != domain.RoleReviewer {
			continue
		}
		if !seen || r.Rank > max {
			max, seen = r.Rank, true
		}
	}
	return max + 1
}

// Position returns the queue priority of id, or 0 if id is not queued.
func Position(ranked []domain.Reviewer, id string) int {
	for _, r := range ranked {
		if r.ID == id {
			return r.Priority
		}
	}
	return 0
}
