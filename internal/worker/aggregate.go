package worker

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/jobcore/internal/domain"
)

// AnalyticsStore is the slice of the persistence layer the aggregation
// pipeline touches. Sessions and interactions are read-only raw inputs;
// the daily aggregates are derived, fully recomputable outputs.
type AnalyticsStore interface {
	ListOpenSubjects(ctx context.Context) ([]string, error)
	ListSessions(ctx context.Context, subjectID string, day time.Time) ([]domain.Session, error)
	CountInteractionsByType(ctx context.Context, subjectID string, day time.Time) (map[string]int, error)
	UpsertDailyAggregate(ctx context.Context, agg *domain.DailyAggregate) error
	ReplaceOptionDailyAggregates(ctx context.Context, subjectID string, day time.Time, aggs []domain.OptionDailyAggregate) error
}

// Aggregator rolls raw sessions and interactions up into per-subject
// daily metrics. Upserts keyed by (subject, day) make the whole run
// idempotent: re-running overwrites, never accumulates.
type Aggregator struct {
	store   AnalyticsStore
	log     *zap.Logger
	Workers int
}

func NewAggregator(store AnalyticsStore, workers int, log *zap.Logger) *Aggregator {
	if workers < 1 {
		workers = 1
	}
	return &Aggregator{store: store, Workers: workers, log: log}
}

type aggregatePayload struct {
	SubjectIDs []string `json:"subjectIds"`
	Date       string   `json:"date"` // 2006-01-02, UTC; empty means yesterday
}

func (a *Aggregator) Handle(ctx context.Context, job *domain.Job) error {
	var p aggregatePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return errors.Wrap(err, "decode aggregation payload")
	}
	day := Yesterday()
	if p.Date != "" {
		parsed, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			return errors.Wrapf(err, "bad aggregation date %q", p.Date)
		}
		day = parsed.UTC()
	}
	return a.AggregateDaily(ctx, p.SubjectIDs, day)
}

// Yesterday is the default aggregation window: the previous UTC day.
func Yesterday() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour).Add(-24 * time.Hour)
}

// AggregateDaily computes and upserts metrics for every given subject for
// the UTC calendar day. An empty subject set means all open subjects.
// One subject's failure never aborts the others; the run errors only when
// the raw-data source itself is unreachable.
func (a *Aggregator) AggregateDaily(ctx context.Context, subjectIDs []string, day time.Time) error {
	day = day.UTC().Truncate(24 * time.Hour)
	if len(subjectIDs) == 0 {
		var err error
		subjectIDs, err = a.store.ListOpenSubjects(ctx)
		if err != nil {
			return domain.Transientf(err, "list open subjects")
		}
	}

	var (
		mu   sync.Mutex
		errs error
	)
	var g errgroup.Group
	g.SetLimit(a.Workers)
	for _, id := range subjectIDs {
		id := id
		g.Go(func() error {
			if err := a.aggregateSubject(ctx, id, day); err != nil {
				a.log.Error("subject aggregation failed",
					zap.String("subject_id", id),
					zap.Time("day", day),
					zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, errors.Wrapf(err, "subject %s", id))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if errs != nil {
		a.log.Warn("daily aggregation finished with skipped subjects",
			zap.Time("day", day),
			zap.Int("subjects", len(subjectIDs)),
			zap.Int("failed", len(multierr.Errors(errs))))
	} else {
		a.log.Info("daily aggregation finished",
			zap.Time("day", day),
			zap.Int("subjects", len(subjectIDs)))
	}
	return nil
}

func (a *Aggregator) aggregateSubject(ctx context.Context, subjectID string, day time.Time) error {
	sessions, err := a.store.ListSessions(ctx, subjectID, day)
	if err != nil {
		return errors.Wrap(err, "load sessions")
	}
	byType, err := a.store.CountInteractionsByType(ctx, subjectID, day)
	if err != nil {
		return errors.Wrap(err, "count interactions")
	}

	agg, optionAggs := computeDaily(subjectID, day, sessions, byType)
	if err := a.store.UpsertDailyAggregate(ctx, agg); err != nil {
		return errors.Wrap(err, "upsert daily aggregate")
	}
	if err := a.store.ReplaceOptionDailyAggregates(ctx, subjectID, day, optionAggs); err != nil {
		return errors.Wrap(err, "upsert option aggregates")
	}
	return nil
}

// computeDaily derives the metric set from one subject's raw day of data.
func computeDaily(subjectID string, day time.Time, sessions []domain.Session, byType map[string]int) (*domain.DailyAggregate, []domain.OptionDailyAggregate) {
	agg := &domain.DailyAggregate{
		SubjectID:          subjectID,
		Day:                day,
		Sessions:           len(sessions),
		InteractionsByType: byType,
	}

	uniques := make(map[string]struct{})
	var durationSum float64
	var durationCount int
	for _, s := range sessions {
		if key := s.VisitorKey(); key != "" {
			uniques[key] = struct{}{}
		}
		if s.Completed() {
			agg.CompletedSessions++
		}
		// Sessions missing either timestamp are excluded from both the
		// numerator and the denominator, matching the source system.
		if s.LastActivityAt != nil {
			durationSum += s.LastActivityAt.Sub(s.StartedAt).Seconds()
			durationCount++
		}
		if s.ConversionType != nil {
			switch *s.ConversionType {
			case domain.ConversionAddToCart:
				agg.AddToCarts++
			case domain.ConversionPurchase:
				agg.Purchases++
				if s.ConversionValue != nil {
					agg.Revenue += *s.ConversionValue
				}
			case domain.ConversionQuoteRequest:
				agg.QuoteRequests++
			case domain.ConversionSave:
				agg.Saves++
			case domain.ConversionShare:
				agg.Shares++
			}
		}
	}

	agg.UniqueViews = len(uniques)
	for _, n := range byType {
		agg.TotalInteractions += n
	}
	agg.Views = byType["view"]
	if len(byType) == 0 {
		agg.Views = len(sessions)
	}
	if durationCount > 0 {
		agg.AvgSessionDurationSeconds = int(math.Floor(durationSum / float64(durationCount)))
	}
	if agg.Purchases > 0 {
		agg.AvgOrderValue = agg.Revenue / float64(agg.Purchases)
	}

	return agg, computeOptionDaily(subjectID, day, sessions)
}

// computeOptionDaily is the second pass: per-option selection and
// conversion counters, with revenue attributed only to purchase sessions.
func computeOptionDaily(subjectID string, day time.Time, sessions []domain.Session) []domain.OptionDailyAggregate {
	type key struct{ component, option string }
	acc := make(map[key]*domain.OptionDailyAggregate)

	for _, s := range sessions {
		for componentID, optionID := range s.Selections {
			if optionID == "" {
				continue
			}
			k := key{componentID, optionID}
			a, ok := acc[k]
			if !ok {
				a = &domain.OptionDailyAggregate{
					SubjectID:   subjectID,
					Day:         day,
					ComponentID: componentID,
					OptionID:    optionID,
				}
				acc[k] = a
			}
			a.Selections++
			if s.ConversionType == nil {
				continue
			}
			switch *s.ConversionType {
			case domain.ConversionAddToCart:
				a.AddToCarts++
			case domain.ConversionPurchase:
				a.Purchases++
				if s.ConversionValue != nil {
					a.Revenue += *s.ConversionValue
				}
			}
		}
	}

	out := make([]domain.OptionDailyAggregate, 0, len(acc))
	for _, a := range acc {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ComponentID != out[j].ComponentID {
			return out[i].ComponentID < out[j].ComponentID
		}
		return out[i].OptionID < out[j].OptionID
	})
	return out
}
