// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/gerrit-stats/internal/domain"
	"github.com/naka-gawa/gerrit-stats/internal/gateway"
	"github.com/naka-gawa/gerrit-stats/internal/metrics"
)

// FailurePolicy decides whether a run with some failed hosts still counts as a success.
type FailurePolicy int

const (
	// RequireAny accepts the run when at least one host succeeded.
	RequireAny FailurePolicy = iota
	// RequireAll rejects the run when any host failed.
	RequireAll
)

// ParseFailurePolicy maps "any" and "all" to a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return RequireAny, nil
	case "all":
		return RequireAll, nil
	default:
		return RequireAny, fmt.Errorf("unknown failure policy %q (want any or all)", s)
	}
}

func (p FailurePolicy) String() string {
	if p == RequireAll {
		return "all"
	}
	return "any"
}

// Result is everything derived from one aggregation run.
type Result struct {
	Hosts    []domain.HostSpec
	Records  []domain.ChangeRecord
	Reviews  []domain.ReviewEvent
	Timeline domain.Timeline
	Summary  domain.Summary
	Failures []*domain.HostError
}

// Aggregator is the use case for aggregating Gerrit changes.
// It orchestrates fetching from every host and merging the results.
type Aggregator struct {
	fetcher  gateway.Fetcher
	reviews  gateway.ReviewFetcher
	logger   *log.Logger
	policy   FailurePolicy
	minWeeks int
	now      func() time.Time
	metrics  *metrics.Recorder
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithFailurePolicy sets the policy applied after all hosts complete.
func WithFailurePolicy(p FailurePolicy) AggregatorOption {
	return func(a *Aggregator) { a.policy = p }
}

// WithMinWeeks extends the timeline back so it covers at least n Monday-aligned weeks ending today.
func WithMinWeeks(n int) AggregatorOption {
	return func(a *Aggregator) { a.minWeeks = n }
}

// WithClock overrides the source of "today".
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// WithRecorder counts dropped duplicates and host failures.
func WithRecorder(m *metrics.Recorder) AggregatorOption {
	return func(a *Aggregator) { a.metrics = m }
}

// WithReviews also fetches each host's review activity. A host whose review
// fetch fails counts as failed.
func WithReviews(r gateway.ReviewFetcher) AggregatorOption {
	return func(a *Aggregator) { a.reviews = r }
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(fetcher gateway.Fetcher, logger *log.Logger, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate performs the main business logic.
// It fetches every host concurrently, then merges, deduplicates and buckets the
// records once all fetches have completed.
func (a *Aggregator) Aggregate(ctx context.Context, query domain.ChangeQuery) (*Result, error) {
	if len(query.Hosts) == 0 {
		return nil, errors.New("no hosts to query")
	}
	if query.Owner.Kind == domain.OwnerSelf {
		for _, h := range query.Hosts {
			if !h.Authenticated() {
				return nil, fmt.Errorf("host %s: %w", h.Alias, domain.ErrAuthRequired)
			}
		}
	}

	a.logger.Printf("Usecase: Starting aggregation over %d host(s)...\n", len(query.Hosts))

	// One slot per host; each goroutine writes only its own slot.
	records := make([][]domain.ChangeRecord, len(query.Hosts))
	reviews := make([][]domain.ReviewEvent, len(query.Hosts))
	failures := make([]error, len(query.Hosts))

	var eg errgroup.Group
	eg.SetLimit(len(query.Hosts))
	for i, host := range query.Hosts {
		eg.Go(func() error {
			records[i], failures[i] = a.fetcher.FetchChanges(ctx, host, query)
			if failures[i] == nil && a.reviews != nil {
				reviews[i], failures[i] = a.reviews.FetchReviews(ctx, host, query)
				if failures[i] != nil {
					records[i] = nil
				}
			}
			// Host failures are collected, never returned, so siblings keep running.
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Hosts: query.Hosts}
	succeeded := 0
	for i, err := range failures {
		if err == nil {
			succeeded++
			a.logger.Printf("Usecase:   %d changes, %d reviews from %s\n", len(records[i]), len(reviews[i]), query.Hosts[i].Alias)
			continue
		}
		hostErr := asHostError(query.Hosts[i].Alias, err)
		a.metrics.Failure(hostErr.Host, hostErr.Kind)
		a.logger.Printf("Usecase:   host %s failed: %v\n", hostErr.Host, hostErr)
		result.Failures = append(result.Failures, hostErr)
	}

	if succeeded == 0 || (a.policy == RequireAll && len(result.Failures) > 0) {
		return nil, &domain.FetchError{Failures: result.Failures}
	}

	result.Records = a.merge(records, query.After)
	today := domain.Day(a.now())
	result.Timeline = Bucket(result.Records, query.After, today, a.minWeeks, len(query.Hosts) > 1)
	result.Summary = Summarize(result.Timeline, result.Records, len(query.Hosts) > 1)
	if a.reviews != nil {
		result.Reviews = a.mergeReviews(reviews, failures, query.After)
		result.Summary.Reviews = SummarizeReviews(result.Reviews, result.Timeline.End)
	}

	a.logger.Printf("Usecase: Aggregation complete: %d merged changes.\n", len(result.Records))
	return result, nil
}

// merge flattens the per-host slots in host order, dropping duplicates,
// unmerged changes and changes merged before after.
func (a *Aggregator) merge(perHost [][]domain.ChangeRecord, after *time.Time) []domain.ChangeRecord {
	seen := make(map[domain.ChangeKey]bool)
	var out []domain.ChangeRecord
	for _, recs := range perHost {
		for _, rec := range recs {
			if seen[rec.Key()] {
				a.logger.Printf("Usecase: warning: dropping duplicate change %s on %s\n", rec.ChangeID, rec.HostAlias)
				a.metrics.Duplicate(rec.HostAlias)
				continue
			}
			seen[rec.Key()] = true

			if rec.Status != domain.StatusMerged || rec.MergedAt == nil {
				continue
			}
			if after != nil && rec.MergedAt.Before(*after) {
				continue
			}
			out = append(out, rec)
		}
	}
	return out
}

// mergeReviews flattens the reviews of the hosts that succeeded, dropping
// duplicates and reviews dated before after.
func (a *Aggregator) mergeReviews(perHost [][]domain.ReviewEvent, failures []error, after *time.Time) []domain.ReviewEvent {
	seen := make(map[domain.ChangeKey]bool)
	var out []domain.ReviewEvent
	for i, evs := range perHost {
		if failures[i] != nil {
			continue
		}
		for _, ev := range evs {
			if seen[ev.Key()] {
				continue
			}
			seen[ev.Key()] = true
			if after != nil && ev.At.Before(*after) {
				continue
			}
			out = append(out, ev)
		}
	}
	return out
}

func asHostError(alias string, err error) *domain.HostError {
	var hostErr *domain.HostError
	if errors.As(err, &hostErr) {
		return hostErr
	}
	return &domain.HostError{Host: alias, Kind: domain.ErrNetwork, Err: err}
}
