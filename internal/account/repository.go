package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"skin-accounts/internal/provider"
)

const uniqueViolation = "23505"

const accountColumns = `
	id, uuid, playername, account_type, email, username, password_encrypted,
	multi_security, microsoft_user_id, microsoft_access_token, microsoft_refresh_token,
	minecraft_xbox_username, client_token, access_token, access_token_expiration,
	access_token_source, enabled, last_used, forced_timeout_at, success_counter,
	error_counter, total_success_counter, total_error_counter, request_ip,
	request_server, time_added, discord_user, discord_message_sent, send_emails,
	hiatus_enabled, hiatus_token, hiatus_last_launch, hiatus_last_ping`

type Repository struct {
	db *sqlx.DB
}

// NewRepository wraps a database/sql handle opened with the pgx stdlib driver.
func NewRepository(database *sql.DB) *Repository {
	return &Repository{db: sqlx.NewDb(database, "pgx")}
}

func (r *Repository) Insert(ctx context.Context, account Account) (int64, error) {
	stmt, err := r.db.PrepareNamedContext(ctx, `
		INSERT INTO accounts (
			uuid, playername, account_type, email, username, password_encrypted,
			multi_security, microsoft_user_id, microsoft_access_token, microsoft_refresh_token,
			minecraft_xbox_username, client_token, access_token, access_token_expiration,
			access_token_source, enabled, last_used, forced_timeout_at, success_counter,
			error_counter, total_success_counter, total_error_counter, request_ip,
			request_server, time_added, discord_user, discord_message_sent, send_emails,
			hiatus_enabled, hiatus_token, hiatus_last_launch, hiatus_last_ping
		) VALUES (
			:uuid, :playername, :account_type, :email, :username, :password_encrypted,
			:multi_security, :microsoft_user_id, :microsoft_access_token, :microsoft_refresh_token,
			:minecraft_xbox_username, :client_token, :access_token, :access_token_expiration,
			:access_token_source, :enabled, :last_used, :forced_timeout_at, :success_counter,
			:error_counter, :total_success_counter, :total_error_counter, :request_ip,
			:request_server, :time_added, :discord_user, :discord_message_sent, :send_emails,
			:hiatus_enabled, :hiatus_token, :hiatus_last_launch, :hiatus_last_ping
		)
		RETURNING id
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert account: %w", err)
	}
	defer stmt.Close()

	var id int64
	if err := stmt.GetContext(ctx, &id, account); err != nil {
		return 0, writeError("insert account", err)
	}
	return id, nil
}

func (r *Repository) FindEnabledByProfile(ctx context.Context, accountType provider.AccountType, uuid string) (Account, error) {
	return r.getOne(ctx, "find enabled account", `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE account_type = $1 AND uuid = $2 AND enabled
		LIMIT 1
	`, accountType, uuid)
}

// FindByLogin matches on email or username so both provider login styles
// resolve to the same record.
func (r *Repository) FindByLogin(ctx context.Context, accountType provider.AccountType, uuid, login string) (Account, error) {
	return r.getOne(ctx, "find account by login", `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE account_type = $1 AND uuid = $2 AND (email = $3 OR username = $3)
		ORDER BY enabled DESC, id DESC
		LIMIT 1
	`, accountType, uuid, login)
}

func (r *Repository) FindByID(ctx context.Context, id int64, uuid, login string) (Account, error) {
	return r.getOne(ctx, "find account by id", `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1 AND uuid = $2 AND (email = $3 OR username = $3)
	`, id, uuid, login)
}

func (r *Repository) FindHiatus(ctx context.Context, uuid string) (Account, error) {
	return r.getOne(ctx, "find hiatus account", `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE enabled AND uuid = $1 AND hiatus_enabled
		ORDER BY id DESC
		LIMIT 1
	`, uuid)
}

func (r *Repository) getOne(ctx context.Context, op, query string, args ...any) (Account, error) {
	var account Account
	if err := r.db.GetContext(ctx, &account, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return account, nil
}

// Update writes every mutable column. id, uuid and account_type are never
// changed here.
func (r *Repository) Update(ctx context.Context, account Account) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE accounts SET
			playername = :playername,
			email = :email,
			username = :username,
			password_encrypted = :password_encrypted,
			multi_security = :multi_security,
			microsoft_user_id = :microsoft_user_id,
			microsoft_access_token = :microsoft_access_token,
			microsoft_refresh_token = :microsoft_refresh_token,
			minecraft_xbox_username = :minecraft_xbox_username,
			client_token = :client_token,
			access_token = :access_token,
			access_token_expiration = :access_token_expiration,
			access_token_source = :access_token_source,
			enabled = :enabled,
			request_ip = :request_ip,
			request_server = :request_server,
			discord_user = :discord_user,
			discord_message_sent = :discord_message_sent,
			send_emails = :send_emails,
			hiatus_enabled = :hiatus_enabled,
			hiatus_token = :hiatus_token,
			hiatus_last_launch = :hiatus_last_launch,
			hiatus_last_ping = :hiatus_last_ping,
			updated_at = NOW()
		WHERE id = :id
	`, account)
	if err != nil {
		return writeError("update account", err)
	}
	return expectOne(res, "update account")
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return expectOne(res, "delete account")
}

func (r *Repository) TouchHiatusLaunch(ctx context.Context, id int64, at int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET hiatus_last_launch = $2, updated_at = NOW() WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("update hiatus launch: %w", err)
	}
	return expectOne(res, "update hiatus launch")
}

func (r *Repository) TouchHiatusPing(ctx context.Context, id int64, at int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET hiatus_last_ping = $2, updated_at = NOW() WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("update hiatus ping: %w", err)
	}
	return expectOne(res, "update hiatus ping")
}

// ResetRollingCounters zeroes rolling counters and clears elapsed forced
// timeouts for at most batchSize accounts. Callers repeat until nothing is
// left to reset.
func (r *Repository) ResetRollingCounters(ctx context.Context, now int64, batchSize int) (ResetResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	var result ResetResult
	err := r.db.QueryRowxContext(ctx, `
		WITH batch AS (
			SELECT id, (forced_timeout_at > 0 AND forced_timeout_at <= $1) AS timed_out
			FROM accounts
			WHERE success_counter <> 0 OR error_counter <> 0
				OR (forced_timeout_at > 0 AND forced_timeout_at <= $1)
			ORDER BY id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		), updated AS (
			UPDATE accounts a SET
				success_counter = 0,
				error_counter = 0,
				forced_timeout_at = CASE WHEN batch.timed_out THEN 0 ELSE a.forced_timeout_at END,
				updated_at = NOW()
			FROM batch
			WHERE a.id = batch.id
			RETURNING batch.timed_out
		)
		SELECT COUNT(*) AS reset_accounts, COUNT(*) FILTER (WHERE timed_out) AS cleared_timeouts
		FROM updated
	`, now, batchSize).StructScan(&result)
	if err != nil {
		return ResetResult{}, fmt.Errorf("reset rolling counters: %w", err)
	}
	return result, nil
}

func expectOne(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// writeError maps a violation of the enabled-profile unique index to
// ErrDuplicate.
func writeError(op string, err error) error {
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
