package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/you/jobcore/internal/domain"
)

// ListOpenSubjects returns the ids of every active configuration, the
// default scope for a daily aggregation run.
func (s *Store) ListOpenSubjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `select id from configurations where active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListSessions loads every raw session for the subject whose startedAt
// falls inside the UTC calendar day.
func (s *Store) ListSessions(ctx context.Context, subjectID string, day time.Time) ([]domain.Session, error) {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)
	rows, err := s.db.Query(ctx, `select id, subject_id, visitor_id, user_id, anonymous_id,
status, started_at, last_activity_at, conversion_type, conversion_value, selections
  from sessions where subject_id = $1 and started_at >= $2 and started_at < $3`,
		subjectID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var sess domain.Session
		var selections []byte
		if err := rows.Scan(&sess.ID, &sess.SubjectID, &sess.VisitorID, &sess.UserID, &sess.AnonymousID,
			&sess.Status, &sess.StartedAt, &sess.LastActivityAt, &sess.ConversionType,
			&sess.ConversionValue, &selections); err != nil {
			return nil, err
		}
		if len(selections) > 0 {
			if err := json.Unmarshal(selections, &sess.Selections); err != nil {
				return nil, errors.Wrapf(err, "decode selections for session %s", sess.ID)
			}
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// CountInteractionsByType groups the subject's raw interaction events for
// the UTC day by type.
func (s *Store) CountInteractionsByType(ctx context.Context, subjectID string, day time.Time) (map[string]int, error) {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)
	rows, err := s.db.Query(ctx, `select type, count(*)
  from interactions where subject_id = $1 and occurred_at >= $2 and occurred_at < $3
  group by type`, subjectID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		out[t] = n
	}
	return out, rows.Err()
}

// UpsertDailyAggregate writes the subject/day roll-up: insert if absent,
// otherwise overwrite every derived column. Re-running the aggregation
// yields identical rows, never accumulated ones.
func (s *Store) UpsertDailyAggregate(ctx context.Context, agg *domain.DailyAggregate) error {
	byType, err := json.Marshal(agg.InteractionsByType)
	if err != nil {
		return errors.Wrap(err, "encode interactions by type")
	}
	_, err = s.db.Exec(ctx, `insert into analytics_daily(
subject_id, day, views, unique_views, sessions, completed_sessions, total_interactions,
interactions_by_type, add_to_carts, purchases, quote_requests, saves, shares,
revenue, avg_session_duration_seconds, avg_order_value, computed_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now())
on conflict (subject_id, day) do update set
  views = excluded.views,
  unique_views = excluded.unique_views,
  sessions = excluded.sessions,
  completed_sessions = excluded.completed_sessions,
  total_interactions = excluded.total_interactions,
  interactions_by_type = excluded.interactions_by_type,
  add_to_carts = excluded.add_to_carts,
  purchases = excluded.purchases,
  quote_requests = excluded.quote_requests,
  saves = excluded.saves,
  shares = excluded.shares,
  revenue = excluded.revenue,
  avg_session_duration_seconds = excluded.avg_session_duration_seconds,
  avg_order_value = excluded.avg_order_value,
  computed_at = now()`,
		agg.SubjectID, agg.Day.UTC().Truncate(24*time.Hour), agg.Views, agg.UniqueViews,
		agg.Sessions, agg.CompletedSessions, agg.TotalInteractions, byType,
		agg.AddToCarts, agg.Purchases, agg.QuoteRequests, agg.Saves, agg.Shares,
		agg.Revenue, agg.AvgSessionDurationSeconds, agg.AvgOrderValue)
	return err
}

// ReplaceOptionDailyAggregates overwrites the per-option roll-ups for the
// subject/day in one transaction. Delete-then-insert keeps options that
// vanished from the raw data from surviving a re-run.
func (s *Store) ReplaceOptionDailyAggregates(ctx context.Context, subjectID string, day time.Time, aggs []domain.OptionDailyAggregate) error {
	d := day.UTC().Truncate(24 * time.Hour)
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`delete from analytics_option_daily where subject_id = $1 and day = $2`,
		subjectID, d); err != nil {
		return err
	}
	for _, a := range aggs {
		if _, err := tx.Exec(ctx, `insert into analytics_option_daily(
subject_id, day, component_id, option_id, selections, add_to_carts, purchases, revenue
) values ($1,$2,$3,$4,$5,$6,$7,$8)`,
			subjectID, d, a.ComponentID, a.OptionID, a.Selections, a.AddToCarts, a.Purchases, a.Revenue); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
