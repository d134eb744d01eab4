package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ErrDuplicate reports a unique-constraint violation, used by the identity
// resolver to detect concurrent profile provisioning.
var ErrDuplicate = errors.New("duplicate row")

func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// translateMissingRef maps a foreign-key violation to sql.ErrNoRows. A write
// that references a vanished prompt reads as not-found, the same answer the
// counter update gives when the row is gone.
func translateMissingRef(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return sql.ErrNoRows
	}
	return err
}

func encodeCategories(categories []string) ([]byte, error) {
	if categories == nil {
		categories = []string{}
	}
	encoded, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("encode categories: %w", err)
	}
	return encoded, nil
}

func decodeCategories(raw []byte, target *[]string) error {
	*target = []string{}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode categories: %w", err)
	}
	return nil
}

// ---- users (credentials) ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, LOWER($2), $3, $4, NULLIF($5, ''), $6)
	`, user.ID, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", translateUnique(err))
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_email_verified, COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_email_verified, COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = NULL, verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token = $1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- profiles ----

func (s *PostgresStore) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	var profile Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, avatar_url, role, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`, profileID).Scan(&profile.ID, &profile.DisplayName, &profile.AvatarURL, &profile.Role, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, avatar_url, role)
		VALUES ($1, $2, $3, $4)
	`, profile.ID, profile.DisplayName, profile.AvatarURL, profile.Role)
	if err != nil {
		return fmt.Errorf("insert profile: %w", translateUnique(err))
	}
	return nil
}

func (s *PostgresStore) UpdateProfileRole(ctx context.Context, profileID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET role = $2, updated_at = NOW() WHERE id = $1
	`, profileID, role)
	if err != nil {
		return fmt.Errorf("update profile role: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, profileID, displayName string, avatarURL *string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET display_name = $2, avatar_url = COALESCE($3, avatar_url), updated_at = NOW()
		WHERE id = $1
	`, profileID, displayName, avatarURL)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- prompts ----

const promptColumns = `
	p.id, p.user_id, p.title, p.body, p.description, p.categories, p.is_public,
	p.likes_count, p.copies_count, p.remixes_count, p.created_at, p.updated_at,
	COALESCE(pr.display_name, ''), pr.avatar_url
`

func scanPrompt(row interface{ Scan(...any) error }) (Prompt, error) {
	var item Prompt
	var rawCategories []byte
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.Title,
		&item.Body,
		&item.Description,
		&rawCategories,
		&item.IsPublic,
		&item.LikesCount,
		&item.CopiesCount,
		&item.RemixesCount,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.AuthorName,
		&item.AuthorAvatar,
	)
	if err != nil {
		return Prompt{}, err
	}
	if err := decodeCategories(rawCategories, &item.Categories); err != nil {
		return Prompt{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetPrompt(ctx context.Context, promptID string) (Prompt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+promptColumns+`
		FROM prompts p
		LEFT JOIN profiles pr ON pr.id = p.user_id
		WHERE p.id = $1
	`, promptID)
	return scanPrompt(row)
}

func (s *PostgresStore) InsertPrompt(ctx context.Context, item Prompt) error {
	categories, err := encodeCategories(item.Categories)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prompts (id, user_id, title, body, description, categories, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.UserID, item.Title, item.Body, item.Description, categories, item.IsPublic)
	if err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePrompt(ctx context.Context, item Prompt) error {
	categories, err := encodeCategories(item.Categories)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE prompts
		SET title = $2, body = $3, description = $4, categories = $5, updated_at = NOW()
		WHERE id = $1
	`, item.ID, item.Title, item.Body, item.Description, categories)
	if err != nil {
		return fmt.Errorf("update prompt: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update prompt rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetPromptVisibility(ctx context.Context, promptID string, isPublic bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE prompts SET is_public = $2, updated_at = NOW() WHERE id = $1
	`, promptID, isPublic)
	if err != nil {
		return fmt.Errorf("set prompt visibility: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set prompt visibility rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeletePrompt(ctx context.Context, promptID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE id = $1`, promptID)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete prompt rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListPublicPrompts(ctx context.Context, limit int) ([]Prompt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+promptColumns+`
		FROM prompts p
		LEFT JOIN profiles pr ON pr.id = p.user_id
		WHERE p.is_public = TRUE
		ORDER BY p.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list public prompts: %w", err)
	}
	defer rows.Close()
	return collectPrompts(rows)
}

func (s *PostgresStore) ListPromptsByOwner(ctx context.Context, userID string) ([]Prompt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+promptColumns+`
		FROM prompts p
		LEFT JOIN profiles pr ON pr.id = p.user_id
		WHERE p.user_id = $1
		ORDER BY p.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list prompts by owner: %w", err)
	}
	defer rows.Close()
	return collectPrompts(rows)
}

func collectPrompts(rows *sql.Rows) ([]Prompt, error) {
	items := make([]Prompt, 0)
	for rows.Next() {
		item, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompts: %w", err)
	}
	return items, nil
}

// ---- engagement ----

// ToggleLike flips the like-relation membership for (promptID, userID) and
// adjusts the cached counter from the observed transition. The relation row,
// not the counter, is the source of truth: two sessions toggling at once
// settle on membership, and DeriveCounts reconciles the cache afterwards.
func (s *PostgresStore) ToggleLike(ctx context.Context, promptID, userID string) (liked bool, count int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin toggle like: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM prompt_likes WHERE prompt_id = $1 AND user_id = $2
	`, promptID, userID)
	if err != nil {
		return false, 0, fmt.Errorf("delete like: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("delete like rows: %w", err)
	}

	if removed > 0 {
		liked = false
		err = tx.QueryRowContext(ctx, `
			UPDATE prompts SET likes_count = GREATEST(likes_count - 1, 0) WHERE id = $1
			RETURNING likes_count
		`, promptID).Scan(&count)
	} else {
		if _, insErr := tx.ExecContext(ctx, `
			INSERT INTO prompt_likes (prompt_id, user_id) VALUES ($1, $2)
			ON CONFLICT (prompt_id, user_id) DO NOTHING
		`, promptID, userID); insErr != nil {
			if insErr = translateMissingRef(insErr); errors.Is(insErr, sql.ErrNoRows) {
				return false, 0, sql.ErrNoRows
			}
			return false, 0, fmt.Errorf("insert like: %w", insErr)
		}
		liked = true
		err = tx.QueryRowContext(ctx, `
			UPDATE prompts SET likes_count = likes_count + 1 WHERE id = $1
			RETURNING likes_count
		`, promptID).Scan(&count)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, 0, sql.ErrNoRows
		}
		return false, 0, fmt.Errorf("adjust like counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit toggle like: %w", err)
	}
	return liked, count, nil
}

func (s *PostgresStore) HasLiked(ctx context.Context, promptID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM prompt_likes WHERE prompt_id = $1 AND user_id = $2)
	`, promptID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check like: %w", err)
	}
	return exists, nil
}

// IncrementCopies bumps the copy counter server-side so concurrent copiers
// never lose increments to read-modify-write races.
func (s *PostgresStore) IncrementCopies(ctx context.Context, promptID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE prompts SET copies_count = copies_count + 1 WHERE id = $1
		RETURNING copies_count
	`, promptID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) IncrementRemixes(ctx context.Context, promptID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE prompts SET remixes_count = remixes_count + 1 WHERE id = $1
		RETURNING remixes_count
	`, promptID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_comments (id, prompt_id, user_id, body)
		VALUES ($1, $2, $3, $4)
	`, comment.ID, comment.PromptID, comment.UserID, comment.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, promptID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.prompt_id, c.user_id, c.body, c.created_at,
			COALESCE(pr.display_name, ''), pr.avatar_url, COALESCE(pr.role, 'user')
		FROM prompt_comments c
		LEFT JOIN profiles pr ON pr.id = c.user_id
		WHERE c.prompt_id = $1
		ORDER BY c.created_at DESC
	`, promptID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.PromptID, &item.UserID, &item.Body, &item.CreatedAt, &item.AuthorName, &item.AuthorAvatar, &item.AuthorRole); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// DeriveCounts recomputes engagement counts from the relation rows and
// reconciles the cached like counter when it has drifted.
func (s *PostgresStore) DeriveCounts(ctx context.Context, promptID string) (EngagementCounts, error) {
	var counts EngagementCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM prompt_likes WHERE prompt_id = $1),
			(SELECT COUNT(*) FROM prompt_comments WHERE prompt_id = $1)
	`, promptID).Scan(&counts.LikeCount, &counts.CommentCount)
	if err != nil {
		return EngagementCounts{}, fmt.Errorf("derive counts: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE prompts SET likes_count = $2 WHERE id = $1 AND likes_count <> $2
	`, promptID, counts.LikeCount); err != nil {
		return EngagementCounts{}, fmt.Errorf("reconcile like counter: %w", err)
	}
	return counts, nil
}

// ---- refresh sessions (postgres fallback when redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ---- password resets ----

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM password_resets
		WHERE token = $1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}
