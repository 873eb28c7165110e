package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
)

// timestamps are stored as fixed-width UTC text so they sort lexically on every dialect
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// maxUpdateAttempts bounds how often Update re-reads after losing an optimistic race.
const maxUpdateAttempts = 5

var parseColumns = []string{
	"id", "owner_id", "file_name", "format", "size_bytes", "status", "page_count",
	"critical_pages", "raw_document_key", "classification_cache_key", "raw_extractions",
	"canonical", "confidence", "provenance", "merge_log", "preview_keys", "error_message",
	"active_run", "attempts", "version", "created_at", "updated_at", "finalized_at", "cleaned_at",
}

// ListFilter narrows List. Zero values mean no constraint.
type ListFilter struct {
	OwnerID  string
	Statuses []constants.ParseStatus
	Limit    int
	Offset   int
}

type ParseRepository interface {
	Create(ctx context.Context, p *entity.Parse) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Parse, error)
	GetForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*entity.Parse, error)
	List(ctx context.Context, f ListFilter) ([]*entity.Parse, error)
	// Update applies fn to the current row and writes it back if nobody else changed it meanwhile.
	// fn may run more than once; returning an error aborts without writing.
	Update(ctx context.Context, id uuid.UUID, fn func(p *entity.Parse) error) (*entity.Parse, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListPreviewCandidates(ctx context.Context, finalizedBefore time.Time, limit int) ([]*entity.Parse, error)
	ListActiveRuns(ctx context.Context) ([]*entity.Parse, error)
}

type parseRepo struct {
	db     *DB
	now    func() time.Time
	logger *slog.Logger
}

func NewParseRepository(db *DB, logger *slog.Logger) ParseRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &parseRepo{db: db, now: time.Now, logger: logger}
}

func (r *parseRepo) Create(ctx context.Context, p *entity.Parse) error {
	now := r.now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Version = 1

	vals, err := rowValues(p)
	if err != nil {
		return err
	}
	q, args := entsql.Dialect(r.db.Dialect).
		Insert(parsesTable).
		Columns(parseColumns...).
		Values(vals...).
		Query()
	if _, err := r.db.SQL.ExecContext(ctx, q, args...); err != nil {
		r.logger.Error("parse create failed", "parse_id", p.ID, "err", err)
		return common.NewAppError("DB_ERROR", "failed to create parse", errors.Join(common.ErrDatabase, err))
	}
	r.logger.Info("parse created", "parse_id", p.ID, "owner_id", p.OwnerID, "status", p.Status)
	return nil
}

func (r *parseRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Parse, error) {
	b := entsql.Dialect(r.db.Dialect)
	q, args := b.Select(parseColumns...).
		From(b.Table(parsesTable)).
		Where(entsql.EQ("id", id.String())).
		Query()
	p, err := scanParse(r.db.SQL.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundError(fmt.Sprintf("parse %s not found", id))
	}
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "failed to load parse", errors.Join(common.ErrDatabase, err))
	}
	return p, nil
}

func (r *parseRepo) GetForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*entity.Parse, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		// indistinguishable from a missing row
		return nil, common.NotFoundError(fmt.Sprintf("parse %s not found", id))
	}
	return p, nil
}

func (r *parseRepo) List(ctx context.Context, f ListFilter) ([]*entity.Parse, error) {
	b := entsql.Dialect(r.db.Dialect)
	sel := b.Select(parseColumns...).From(b.Table(parsesTable))
	if f.OwnerID != "" {
		sel.Where(entsql.EQ("owner_id", f.OwnerID))
	}
	if len(f.Statuses) > 0 {
		vals := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			vals[i] = string(s)
		}
		sel.Where(entsql.In("status", vals...))
	}
	sel.OrderBy(entsql.Desc("created_at"), "id")
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	if f.Offset > 0 {
		sel.Offset(f.Offset)
	}
	return r.query(ctx, sel)
}

func (r *parseRepo) ListPreviewCandidates(ctx context.Context, finalizedBefore time.Time, limit int) ([]*entity.Parse, error) {
	b := entsql.Dialect(r.db.Dialect)
	sel := b.Select(parseColumns...).
		From(b.Table(parsesTable)).
		Where(entsql.And(
			entsql.NotNull("preview_keys"),
			entsql.Or(
				entsql.EQ("status", string(constants.ParseStatusArchived)),
				entsql.And(
					entsql.NotNull("finalized_at"),
					entsql.LTE("finalized_at", formatTime(finalizedBefore)),
				),
			),
		)).
		OrderBy("finalized_at")
	if limit > 0 {
		sel.Limit(limit)
	}
	return r.query(ctx, sel)
}

func (r *parseRepo) ListActiveRuns(ctx context.Context) ([]*entity.Parse, error) {
	b := entsql.Dialect(r.db.Dialect)
	sel := b.Select(parseColumns...).
		From(b.Table(parsesTable)).
		Where(entsql.NEQ("active_run", "")).
		OrderBy("created_at")
	return r.query(ctx, sel)
}

func (r *parseRepo) query(ctx context.Context, sel *entsql.Selector) ([]*entity.Parse, error) {
	q, args := sel.Query()
	rows, err := r.db.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "failed to list parses", errors.Join(common.ErrDatabase, err))
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("rows close failed", "err", err)
		}
	}()
	var out []*entity.Parse
	for rows.Next() {
		p, err := scanParse(rows)
		if err != nil {
			return nil, common.NewAppError("DB_ERROR", "failed to scan parse", errors.Join(common.ErrDatabase, err))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewAppError("DB_ERROR", "failed to list parses", errors.Join(common.ErrDatabase, err))
	}
	return out, nil
}

func (r *parseRepo) Update(ctx context.Context, id uuid.UUID, fn func(p *entity.Parse) error) (*entity.Parse, error) {
	for attempt := 1; ; attempt++ {
		cur, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		prevVersion := cur.Version
		if err := fn(cur); err != nil {
			return nil, err
		}
		cur.ID = id
		cur.Version = prevVersion + 1
		cur.UpdatedAt = r.now().UTC()

		ok, err := r.write(ctx, cur, prevVersion)
		if err != nil {
			return nil, err
		}
		if ok {
			return cur, nil
		}
		if attempt >= maxUpdateAttempts {
			r.logger.Warn("parse update conflict", "parse_id", id, "attempts", attempt)
			return nil, common.NewAppError("CONFLICT", "parse was modified concurrently", common.ErrConflict)
		}
		r.logger.Debug("parse update lost race, retrying", "parse_id", id, "attempt", attempt)
	}
}

// write performs the optimistic update and reports whether the expected version matched.
func (r *parseRepo) write(ctx context.Context, p *entity.Parse, expectVersion int64) (bool, error) {
	vals, err := rowValues(p)
	if err != nil {
		return false, err
	}
	upd := entsql.Dialect(r.db.Dialect).Update(parsesTable)
	for i, col := range parseColumns {
		if col == "id" || col == "created_at" {
			continue
		}
		if vals[i] == nil {
			upd.SetNull(col)
		} else {
			upd.Set(col, vals[i])
		}
	}
	q, args := upd.Where(entsql.And(
		entsql.EQ("id", p.ID.String()),
		entsql.EQ("version", expectVersion),
	)).Query()
	res, err := r.db.SQL.ExecContext(ctx, q, args...)
	if err != nil {
		r.logger.Error("parse update failed", "parse_id", p.ID, "err", err)
		return false, common.NewAppError("DB_ERROR", "failed to update parse", errors.Join(common.ErrDatabase, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, common.NewAppError("DB_ERROR", "failed to update parse", errors.Join(common.ErrDatabase, err))
	}
	return n == 1, nil
}

func (r *parseRepo) Delete(ctx context.Context, id uuid.UUID) error {
	q, args := entsql.Dialect(r.db.Dialect).
		Delete(parsesTable).
		Where(entsql.EQ("id", id.String())).
		Query()
	res, err := r.db.SQL.ExecContext(ctx, q, args...)
	if err != nil {
		return common.NewAppError("DB_ERROR", "failed to delete parse", errors.Join(common.ErrDatabase, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NotFoundError(fmt.Sprintf("parse %s not found", id))
	}
	r.logger.Info("parse deleted", "parse_id", id)
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(tsLayout) }

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// jsonOrNil stores empty values as NULL so "IS NOT NULL" means "has content".
func jsonOrNil(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func rowValues(p *entity.Parse) ([]any, error) {
	type jsonCol struct {
		v     any
		empty bool
	}
	cols := []jsonCol{
		{p.CriticalPages, len(p.CriticalPages) == 0},
		{p.RawExtractions, len(p.RawExtractions) == 0},
		{p.Canonical, p.Canonical == nil},
		{p.Confidence, p.Confidence == nil},
		{p.Provenance, len(p.Provenance) == 0},
		{p.MergeLog, len(p.MergeLog) == 0},
		{p.PreviewKeys, len(p.PreviewKeys) == 0},
	}
	enc := make([]any, len(cols))
	for i, c := range cols {
		v, err := jsonOrNil(c.v, c.empty)
		if err != nil {
			return nil, fmt.Errorf("encode parse %s: %w", p.ID, err)
		}
		enc[i] = v
	}
	return []any{
		p.ID.String(), p.OwnerID, p.FileName, string(p.Format), p.SizeBytes, string(p.Status), int64(p.PageCount),
		enc[0], strOrNil(p.RawDocumentKey), strOrNil(p.ClassificationCacheKey), enc[1],
		enc[2], enc[3], enc[4], enc[5], enc[6], strOrNil(p.ErrorMessage),
		p.ActiveRun, int64(p.Attempts), p.Version, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
		timeOrNil(p.FinalizedAt), timeOrNil(p.CleanedAt),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParse(row rowScanner) (*entity.Parse, error) {
	var (
		p                                                  entity.Parse
		id, format, status, createdAt, updatedAt           string
		pageCount, attempts                                int64
		criticalPages, rawDocKey, cacheKey, rawExtractions sql.NullString
		canonical, confidence, provenance, mergeLog        sql.NullString
		previewKeys, errMsg, finalizedAt, cleanedAt        sql.NullString
	)
	err := row.Scan(
		&id, &p.OwnerID, &p.FileName, &format, &p.SizeBytes, &status, &pageCount,
		&criticalPages, &rawDocKey, &cacheKey, &rawExtractions,
		&canonical, &confidence, &provenance, &mergeLog, &previewKeys, &errMsg,
		&p.ActiveRun, &attempts, &p.Version, &createdAt, &updatedAt, &finalizedAt, &cleanedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}
	p.Format = constants.DocumentFormat(format)
	p.Status = constants.ParseStatus(status)
	p.PageCount = int(pageCount)
	p.Attempts = int(attempts)

	decode := func(ns sql.NullString, v any) error {
		if !ns.Valid || ns.String == "" {
			return nil
		}
		return json.Unmarshal([]byte(ns.String), v)
	}
	for _, d := range []struct {
		ns sql.NullString
		v  any
	}{
		{criticalPages, &p.CriticalPages},
		{rawExtractions, &p.RawExtractions},
		{canonical, &p.Canonical},
		{confidence, &p.Confidence},
		{provenance, &p.Provenance},
		{mergeLog, &p.MergeLog},
		{previewKeys, &p.PreviewKeys},
	} {
		if err := decode(d.ns, d.v); err != nil {
			return nil, fmt.Errorf("decode parse %s: %w", id, err)
		}
	}
	if rawDocKey.Valid {
		p.RawDocumentKey = &rawDocKey.String
	}
	if cacheKey.Valid {
		p.ClassificationCacheKey = &cacheKey.String
	}
	if errMsg.Valid {
		p.ErrorMessage = &errMsg.String
	}

	if p.CreatedAt, err = time.Parse(tsLayout, createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = time.Parse(tsLayout, updatedAt); err != nil {
		return nil, err
	}
	for _, t := range []struct {
		ns  sql.NullString
		dst **time.Time
	}{{finalizedAt, &p.FinalizedAt}, {cleanedAt, &p.CleanedAt}} {
		if !t.ns.Valid {
			continue
		}
		v, err := time.Parse(tsLayout, t.ns.String)
		if err != nil {
			return nil, err
		}
		*t.dst = &v
	}
	return &p, nil
}
