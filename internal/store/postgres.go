package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

const contentColumns = `id, title, type, owner_id, visible, latest_version_id, created_at, updated_at`

const versionColumns = `id, content_id, number, snapshot, message, contributor_id, status, created_at`

const pullRequestColumns = `id, content_id, source_version_id, target_version_id, author_id, reviewer_ids, status, created_at, updated_at`

// versionRow scans snapshot through []byte since jsonb may arrive as text.
type versionRow struct {
	ID            string        `db:"id"`
	ContentID     string        `db:"content_id"`
	Number        int           `db:"number"`
	Snapshot      []byte        `db:"snapshot"`
	Message       string        `db:"message"`
	ContributorID string        `db:"contributor_id"`
	Status        VersionStatus `db:"status"`
	CreatedAt     time.Time     `db:"created_at"`
}

func (r versionRow) version() Version {
	return Version{
		ID:            r.ID,
		ContentID:     r.ContentID,
		Number:        r.Number,
		Snapshot:      json.RawMessage(r.Snapshot),
		Message:       r.Message,
		ContributorID: r.ContributorID,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
	}
}

type pullRequestRow struct {
	ID              string    `db:"id"`
	ContentID       string    `db:"content_id"`
	SourceVersionID string    `db:"source_version_id"`
	TargetVersionID string    `db:"target_version_id"`
	AuthorID        string    `db:"author_id"`
	ReviewerIDs     []byte    `db:"reviewer_ids"`
	Status          PRStatus  `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r pullRequestRow) pullRequest() (PullRequest, error) {
	pr := PullRequest{
		ID:              r.ID,
		ContentID:       r.ContentID,
		SourceVersionID: r.SourceVersionID,
		TargetVersionID: r.TargetVersionID,
		AuthorID:        r.AuthorID,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if len(r.ReviewerIDs) > 0 {
		if err := json.Unmarshal(r.ReviewerIDs, &pr.ReviewerIDs); err != nil {
			return PullRequest{}, fmt.Errorf("decode reviewers of %s: %w", r.ID, err)
		}
	}
	if pr.ReviewerIDs == nil {
		pr.ReviewerIDs = []string{}
	}
	return pr, nil
}

// ListContent returns content readable by viewerID: visible items and items
// the viewer collaborates on.
func (s *PostgresStore) ListContent(ctx context.Context, viewerID string) ([]Content, error) {
	items := make([]Content, 0)
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+contentColumns+`
		FROM contents c
		WHERE c.visible
			OR EXISTS (SELECT 1 FROM content_collaborators cc WHERE cc.content_id = c.id AND cc.user_id = $1)
		ORDER BY c.updated_at DESC, c.id
	`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	if err := s.hydrate(ctx, s.db, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *PostgresStore) GetContent(ctx context.Context, contentID string) (Content, error) {
	return s.getContent(ctx, s.db, contentID)
}

func (s *PostgresStore) getContent(ctx context.Context, q sqlx.QueryerContext, contentID string) (Content, error) {
	var item Content
	err := sqlx.GetContext(ctx, q, &item, `SELECT `+contentColumns+` FROM contents WHERE id = $1`, contentID)
	if errors.Is(err, sql.ErrNoRows) {
		return Content{}, ErrNotFound
	}
	if err != nil {
		return Content{}, fmt.Errorf("get content: %w", err)
	}
	items := []Content{item}
	if err := s.hydrate(ctx, q, items); err != nil {
		return Content{}, err
	}
	return items[0], nil
}

// hydrate fills the collaborator and version id joins for items in place.
func (s *PostgresStore) hydrate(ctx context.Context, q sqlx.QueryerContext, items []Content) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	index := make(map[string]int, len(items))
	for i := range items {
		ids[i] = items[i].ID
		index[items[i].ID] = i
		items[i].CollaboratorIDs = []string{}
		items[i].VersionIDs = []string{}
	}

	var collaborators []struct {
		ContentID string `db:"content_id"`
		UserID    string `db:"user_id"`
	}
	err := sqlx.SelectContext(ctx, q, &collaborators, `
		SELECT content_id, user_id
		FROM content_collaborators
		WHERE content_id = ANY($1)
		ORDER BY added_at, user_id
	`, ids)
	if err != nil {
		return fmt.Errorf("list collaborators: %w", err)
	}
	for _, row := range collaborators {
		i := index[row.ContentID]
		items[i].CollaboratorIDs = append(items[i].CollaboratorIDs, row.UserID)
	}

	var versions []struct {
		ContentID string `db:"content_id"`
		ID        string `db:"id"`
	}
	err = sqlx.SelectContext(ctx, q, &versions, `
		SELECT content_id, id
		FROM versions
		WHERE content_id = ANY($1)
		ORDER BY content_id, number
	`, ids)
	if err != nil {
		return fmt.Errorf("list version ids: %w", err)
	}
	for _, row := range versions {
		i := index[row.ContentID]
		items[i].VersionIDs = append(items[i].VersionIDs, row.ID)
	}
	return nil
}

func (s *PostgresStore) InsertContent(ctx context.Context, item NewContent) (Content, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Content{}, fmt.Errorf("begin insert content: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contents (id, title, type, owner_id, visible)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Title, item.Type, item.OwnerID, item.Visible)
	if err != nil {
		return Content{}, fmt.Errorf("insert content: %w", mapWriteError(err))
	}
	members := uniqueStrings(append([]string{item.OwnerID}, item.Collaborators...))
	if err := insertCollaborators(ctx, tx, item.ID, members); err != nil {
		return Content{}, err
	}

	created, err := s.getContent(ctx, tx, item.ID)
	if err != nil {
		return Content{}, err
	}
	if err := tx.Commit(); err != nil {
		return Content{}, fmt.Errorf("commit insert content: %w", err)
	}
	return created, nil
}

func insertCollaborators(ctx context.Context, tx *sqlx.Tx, contentID string, userIDs []string) error {
	for _, userID := range userIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO content_collaborators (content_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (content_id, user_id) DO NOTHING
		`, contentID, userID)
		if err != nil {
			return fmt.Errorf("insert collaborator: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpdateContentTitle(ctx context.Context, contentID, title string) (Content, error) {
	return s.updateContent(ctx, contentID, `UPDATE contents SET title = $2, updated_at = NOW() WHERE id = $1`, title)
}

func (s *PostgresStore) SetVisibility(ctx context.Context, contentID string, visible bool) (Content, error) {
	return s.updateContent(ctx, contentID, `UPDATE contents SET visible = $2, updated_at = NOW() WHERE id = $1`, visible)
}

func (s *PostgresStore) updateContent(ctx context.Context, contentID, query string, value any) (Content, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Content{}, fmt.Errorf("begin update content: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, query, contentID, value)
	if err != nil {
		return Content{}, fmt.Errorf("update content: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return Content{}, ErrNotFound
	}
	updated, err := s.getContent(ctx, tx, contentID)
	if err != nil {
		return Content{}, err
	}
	if err := tx.Commit(); err != nil {
		return Content{}, fmt.Errorf("commit update content: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteContent(ctx context.Context, contentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contents WHERE id = $1`, contentID)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddCollaborators(ctx context.Context, contentID string, userIDs []string) (Content, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Content{}, fmt.Errorf("begin add collaborators: %w", err)
	}
	defer tx.Rollback()

	if err := lockContent(ctx, tx, contentID); err != nil {
		return Content{}, err
	}
	if err := insertCollaborators(ctx, tx, contentID, uniqueStrings(userIDs)); err != nil {
		return Content{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE contents SET updated_at = NOW() WHERE id = $1`, contentID); err != nil {
		return Content{}, fmt.Errorf("touch content: %w", err)
	}
	updated, err := s.getContent(ctx, tx, contentID)
	if err != nil {
		return Content{}, err
	}
	if err := tx.Commit(); err != nil {
		return Content{}, fmt.Errorf("commit add collaborators: %w", err)
	}
	return updated, nil
}

// lockContent takes the per-content row lock that serializes version log and
// pull request mutations.
func lockContent(ctx context.Context, tx *sqlx.Tx, contentID string) error {
	var id string
	err := tx.GetContext(ctx, &id, `SELECT id FROM contents WHERE id = $1 FOR UPDATE`, contentID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock content: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendVersion(ctx context.Context, contentID string, input NewVersion) (Version, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Version{}, fmt.Errorf("begin append version: %w", err)
	}
	defer tx.Rollback()

	if err := lockContent(ctx, tx, contentID); err != nil {
		return Version{}, err
	}

	var next int
	if err := tx.GetContext(ctx, &next, `SELECT COALESCE(MAX(number), 0) + 1 FROM versions WHERE content_id = $1`, contentID); err != nil {
		return Version{}, fmt.Errorf("next version number: %w", err)
	}

	var row versionRow
	err = tx.GetContext(ctx, &row, `
		INSERT INTO versions (id, content_id, number, snapshot, message, contributor_id, status)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		RETURNING `+versionColumns,
		input.ID, contentID, next, string(input.Snapshot), input.Message, input.ContributorID, VersionPendingReview)
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", mapWriteError(err))
	}

	if _, err := tx.ExecContext(ctx, `UPDATE contents SET latest_version_id = $2, updated_at = NOW() WHERE id = $1`, contentID, row.ID); err != nil {
		return Version{}, fmt.Errorf("advance head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Version{}, fmt.Errorf("commit append version: %w", mapWriteError(err))
	}
	return row.version(), nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, contentID string) ([]Version, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM contents WHERE id = $1)`, contentID); err != nil {
		return nil, fmt.Errorf("check content: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	var rows []versionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE content_id = $1
		ORDER BY number DESC
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	items := make([]Version, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.version())
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, contentID, versionID string) (Version, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+versionColumns+` FROM versions WHERE content_id = $1 AND id = $2`, contentID, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("get version: %w", err)
	}
	return row.version(), nil
}

// RevertTo deletes every version numbered above number and points the head at
// version number. Reverting to the current head and maximum changes nothing.
func (s *PostgresStore) RevertTo(ctx context.Context, contentID string, number int) (Content, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Content{}, fmt.Errorf("begin revert: %w", err)
	}
	defer tx.Rollback()

	if err := lockContent(ctx, tx, contentID); err != nil {
		return Content{}, err
	}

	var targetID string
	err = tx.GetContext(ctx, &targetID, `SELECT id FROM versions WHERE content_id = $1 AND number = $2`, contentID, number)
	if errors.Is(err, sql.ErrNoRows) {
		return Content{}, ErrNotFound
	}
	if err != nil {
		return Content{}, fmt.Errorf("find revert target: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE content_id = $1 AND number > $2`, contentID, number)
	if err != nil {
		return Content{}, fmt.Errorf("discard versions: %w", err)
	}
	removed, _ := result.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		UPDATE contents
		SET latest_version_id = $2, updated_at = NOW()
		WHERE id = $1 AND ($3::boolean OR latest_version_id IS DISTINCT FROM $2)
	`, contentID, targetID, removed > 0)
	if err != nil {
		return Content{}, fmt.Errorf("reset head: %w", err)
	}

	updated, err := s.getContent(ctx, tx, contentID)
	if err != nil {
		return Content{}, err
	}
	if err := tx.Commit(); err != nil {
		return Content{}, fmt.Errorf("commit revert: %w", mapWriteError(err))
	}
	return updated, nil
}

func (s *PostgresStore) UpdateVersionStatus(ctx context.Context, contentID, versionID string, status VersionStatus) (Version, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE versions SET status = $3
		WHERE content_id = $1 AND id = $2
		RETURNING `+versionColumns,
		contentID, versionID, status)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("update version status: %w", err)
	}
	return row.version(), nil
}

// InsertPullRequest resolves an empty target to the current head inside the
// same transaction that stores the pull request.
func (s *PostgresStore) InsertPullRequest(ctx context.Context, input NewPullRequest) (PullRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return PullRequest{}, fmt.Errorf("begin insert pull request: %w", err)
	}
	defer tx.Rollback()

	if err := lockContent(ctx, tx, input.ContentID); err != nil {
		return PullRequest{}, err
	}

	if err := versionExists(ctx, tx, input.ContentID, input.SourceVersionID); err != nil {
		return PullRequest{}, err
	}
	target := input.TargetVersionID
	if target == "" {
		var latest sql.NullString
		if err := tx.GetContext(ctx, &latest, `SELECT latest_version_id FROM contents WHERE id = $1`, input.ContentID); err != nil {
			return PullRequest{}, fmt.Errorf("read head: %w", err)
		}
		if !latest.Valid || latest.String == "" {
			return PullRequest{}, fmt.Errorf("head version: %w", ErrNotFound)
		}
		target = latest.String
	}
	if err := versionExists(ctx, tx, input.ContentID, target); err != nil {
		return PullRequest{}, err
	}
	if target == input.SourceVersionID {
		return PullRequest{}, fmt.Errorf("%w: source and target versions must differ", ErrInvalid)
	}

	reviewers, err := json.Marshal(uniqueStrings(input.ReviewerIDs))
	if err != nil {
		return PullRequest{}, fmt.Errorf("marshal reviewers: %w", err)
	}
	var row pullRequestRow
	err = tx.GetContext(ctx, &row, `
		INSERT INTO pull_requests (id, content_id, source_version_id, target_version_id, author_id, reviewer_ids, status)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		RETURNING `+pullRequestColumns,
		input.ID, input.ContentID, input.SourceVersionID, target, input.AuthorID, string(reviewers), PROpen)
	if err != nil {
		return PullRequest{}, fmt.Errorf("insert pull request: %w", mapWriteError(err))
	}
	if err := tx.Commit(); err != nil {
		return PullRequest{}, fmt.Errorf("commit insert pull request: %w", err)
	}
	return row.pullRequest()
}

func versionExists(ctx context.Context, tx *sqlx.Tx, contentID, versionID string) error {
	var exists bool
	err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM versions WHERE content_id = $1 AND id = $2)`, contentID, versionID)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if !exists {
		return fmt.Errorf("version %s: %w", versionID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetPullRequest(ctx context.Context, prID string) (PullRequest, error) {
	var row pullRequestRow
	err := s.db.GetContext(ctx, &row, `SELECT `+pullRequestColumns+` FROM pull_requests WHERE id = $1`, prID)
	if errors.Is(err, sql.ErrNoRows) {
		return PullRequest{}, ErrNotFound
	}
	if err != nil {
		return PullRequest{}, fmt.Errorf("get pull request: %w", err)
	}
	return row.pullRequest()
}

func (s *PostgresStore) ListPullRequests(ctx context.Context, contentID string) ([]PullRequest, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM contents WHERE id = $1)`, contentID); err != nil {
		return nil, fmt.Errorf("check content: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	var rows []pullRequestRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+pullRequestColumns+`
		FROM pull_requests
		WHERE content_id = $1
		ORDER BY created_at DESC, id
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	items := make([]PullRequest, 0, len(rows))
	for _, row := range rows {
		pr, err := row.pullRequest()
		if err != nil {
			return nil, err
		}
		items = append(items, pr)
	}
	return items, nil
}

// TransitionPullRequest applies the transition returned by decide to the pull
// request. decide sees the locked current state; its error aborts the
// transaction unchanged. Referenced versions removed by a revert surface as
// ErrConflict.
func (s *PostgresStore) TransitionPullRequest(ctx context.Context, prID string, decide func(PullRequest) (Transition, error)) (PullRequest, error) {
	current, err := s.GetPullRequest(ctx, prID)
	if err != nil {
		return PullRequest{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return PullRequest{}, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	if err := lockContent(ctx, tx, current.ContentID); err != nil {
		return PullRequest{}, err
	}
	var row pullRequestRow
	err = tx.GetContext(ctx, &row, `SELECT `+pullRequestColumns+` FROM pull_requests WHERE id = $1 FOR UPDATE`, prID)
	if errors.Is(err, sql.ErrNoRows) {
		return PullRequest{}, ErrNotFound
	}
	if err != nil {
		return PullRequest{}, fmt.Errorf("lock pull request: %w", err)
	}
	pr, err := row.pullRequest()
	if err != nil {
		return PullRequest{}, err
	}

	next, err := decide(pr)
	if err != nil {
		return PullRequest{}, err
	}
	for _, versionID := range []string{pr.SourceVersionID, pr.TargetVersionID} {
		if err := versionExists(ctx, tx, pr.ContentID, versionID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return PullRequest{}, fmt.Errorf("%w: version %s no longer exists", ErrConflict, versionID)
			}
			return PullRequest{}, err
		}
	}

	err = tx.GetContext(ctx, &row, `
		UPDATE pull_requests SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+pullRequestColumns,
		prID, next.Status)
	if err != nil {
		return PullRequest{}, fmt.Errorf("update pull request: %w", err)
	}
	if next.VersionStatus != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE versions SET status = $3 WHERE content_id = $1 AND id = $2`, pr.ContentID, pr.SourceVersionID, next.VersionStatus); err != nil {
			return PullRequest{}, fmt.Errorf("update source version status: %w", err)
		}
	}
	if next.AdoptSource {
		if _, err := tx.ExecContext(ctx, `UPDATE contents SET latest_version_id = $2, updated_at = NOW() WHERE id = $1`, pr.ContentID, pr.SourceVersionID); err != nil {
			return PullRequest{}, fmt.Errorf("adopt source version: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return PullRequest{}, fmt.Errorf("commit transition: %w", mapWriteError(err))
	}
	return row.pullRequest()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// mapWriteError turns unique violations and serialization failures into
// ErrConflict.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}
