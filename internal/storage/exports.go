package storage

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/you/jobcore/internal/domain"
)

// CreateExport persists a fresh PENDING export record.
func (s *Store) CreateExport(ctx context.Context, rec *domain.ExportRecord) error {
	opts, err := json.Marshal(rec.Options)
	if err != nil {
		return errors.Wrap(domain.ErrPayloadNotSerializable, err.Error())
	}
	_, err = s.db.Exec(ctx, `insert into export_records(
id, subject_id, requester_id, kind, format, status, progress, options
) values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.SubjectID, rec.RequesterID, rec.Kind, rec.Format,
		domain.ExportPending, 0, opts)
	return err
}

// GetExport loads one export record; domain.ErrExportNotFound when missing.
func (s *Store) GetExport(ctx context.Context, id string) (*domain.ExportRecord, error) {
	var rec domain.ExportRecord
	var opts []byte
	err := s.db.QueryRow(ctx, `select id, subject_id, requester_id, kind, format, status, progress,
options, artifact_url, artifact_name, artifact_size_bytes, error_message, created_at, completed_at
  from export_records where id = $1`, id).Scan(
		&rec.ID, &rec.SubjectID, &rec.RequesterID, &rec.Kind, &rec.Format, &rec.Status, &rec.Progress,
		&opts, &rec.ArtifactURL, &rec.ArtifactName, &rec.ArtifactSizeBytes, &rec.ErrorMessage,
		&rec.CreatedAt, &rec.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrExportNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &rec.Options); err != nil {
			return nil, errors.Wrap(err, "decode export options")
		}
	}
	return &rec, nil
}

// MarkExportProcessing moves the record into PROCESSING. GREATEST keeps
// progress monotone across duplicate deliveries.
func (s *Store) MarkExportProcessing(ctx context.Context, id string, progress int) error {
	_, err := s.db.Exec(ctx, `update export_records
    set status = $2, progress = greatest(progress, $3)
  where id = $1 and status in ($4, $2)`,
		id, domain.ExportProcessing, progress, domain.ExportPending)
	return err
}

// SetExportProgress advances progress while PROCESSING; it never moves it
// backwards.
func (s *Store) SetExportProgress(ctx context.Context, id string, progress int) error {
	_, err := s.db.Exec(ctx, `update export_records
    set progress = greatest(progress, $2)
  where id = $1 and status = $3`,
		id, progress, domain.ExportProcessing)
	return err
}

// CompleteExport records the uploaded artifact and finishes the record.
func (s *Store) CompleteExport(ctx context.Context, id, artifactURL, artifactName string, sizeBytes int64) error {
	_, err := s.db.Exec(ctx, `update export_records
    set status = $2, progress = 100, artifact_url = $3, artifact_name = $4,
        artifact_size_bytes = $5, error_message = '', completed_at = now()
  where id = $1`,
		id, domain.ExportCompleted, artifactURL, artifactName, sizeBytes)
	return err
}

// FailExport terminally fails the record with a human-readable message.
func (s *Store) FailExport(ctx context.Context, id, message string) error {
	_, err := s.db.Exec(ctx, `update export_records
    set status = $2, error_message = $3, artifact_url = '', artifact_name = '',
        artifact_size_bytes = 0, completed_at = now()
  where id = $1`,
		id, domain.ExportFailed, message)
	return err
}

// SubjectSnapshot resolves the configuration plus the selected options and
// their price deltas. Fails with domain.ErrSubjectNotFound when the
// configuration no longer exists.
func (s *Store) SubjectSnapshot(ctx context.Context, subjectID string, selections map[string]string) (*domain.SubjectSnapshot, error) {
	var snap domain.SubjectSnapshot
	err := s.db.QueryRow(ctx,
		`select id, name, currency, base_price from configurations where id = $1`,
		subjectID).Scan(&snap.ID, &snap.Name, &snap.Currency, &snap.BasePrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubjectNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(selections) == 0 {
		return &snap, nil
	}

	rows, err := s.db.Query(ctx, `select component_id, option_id, label, price_delta
  from configuration_options where configuration_id = $1`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type catalogKey struct{ component, option string }
	catalog := make(map[catalogKey]domain.SelectedOption)
	for rows.Next() {
		var o domain.SelectedOption
		if err := rows.Scan(&o.ComponentID, &o.OptionID, &o.Label, &o.PriceDelta); err != nil {
			return nil, err
		}
		catalog[catalogKey{o.ComponentID, o.OptionID}] = o
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for componentID, optionID := range selections {
		if optionID == "" {
			continue
		}
		if o, ok := catalog[catalogKey{componentID, optionID}]; ok {
			snap.Selected = append(snap.Selected, o)
			continue
		}
		// Option no longer in the catalog: keep the selection visible in
		// the artifact, priced at zero.
		snap.Selected = append(snap.Selected, domain.SelectedOption{
			ComponentID: componentID,
			OptionID:    optionID,
			Label:       optionID,
		})
	}
	// Stable order so re-renders produce identical artifacts.
	sort.Slice(snap.Selected, func(i, j int) bool {
		return snap.Selected[i].ComponentID < snap.Selected[j].ComponentID
	})
	return &snap, nil
}
