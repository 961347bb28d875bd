package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"voyagedesk.app/internal/auth"
	"voyagedesk.app/internal/ids"
)

const userColumns = `id, coalesce(agency_id, ''), email, password_hash, role, status, created_at, updated_at`

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u      auth.User
		role   string
		status string
	)
	if err := row.Scan(&u.ID, &u.AgencyID, &u.Email, &u.PasswordHash, &role, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	u.Role = auth.Role(role)
	u.Status = auth.ActorStatus(status)
	return u, nil
}

// CreateUser inserts u. Staff take their status from the agency, read under
// a share lock in the same transaction.
func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	if u.ID == "" {
		u.ID = ids.NewWithPrefix(ids.PrefixUser)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if u.AgencyID != "" {
		agency, err := lockAgency(ctx, tx, u.AgencyID)
		if err != nil {
			return auth.User{}, err
		}
		u.Status = auth.InitialStaffStatus(agency.Status)
	}
	created, err := scanUser(tx.QueryRowContext(ctx, `
		insert into users (id, agency_id, email, password_hash, role, status)
		values ($1, $2, $3, $4, $5, $6)
		returning `+userColumns,
		u.ID, nullIfEmpty(u.AgencyID), u.Email, u.PasswordHash, string(u.Role), string(u.Status)))
	if err != nil {
		return auth.User{}, mapWriteError(err)
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	return created, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	return s.getUser(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.getUser(ctx, `select `+userColumns+` from users where email = $1`, email)
}

func (s *Store) getUser(ctx context.Context, query string, arg string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, agencyID string) ([]auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users where agency_id = $1 order by id`, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// UpdateUserStatus changes a user's status. For staff the agency row is
// share-locked before the user row, the same order agency writes use.
func (s *Store) UpdateUserStatus(ctx context.Context, id string, status auth.ActorStatus) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := txUser(ctx, tx, id)
	if err != nil {
		return auth.User{}, err
	}
	if current.AgencyID != "" {
		agency, err := lockAgency(ctx, tx, current.AgencyID)
		if err != nil {
			return auth.User{}, err
		}
		if err := auth.CheckActivation(status, agency); err != nil {
			return auth.User{}, err
		}
	}
	u, err := scanUser(tx.QueryRowContext(ctx, `
		update users set status = $2, updated_at = now()
		where id = $1
		returning `+userColumns, id, string(status)))
	if err != nil {
		return auth.User{}, mapWriteError(err)
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	return u, nil
}

// SetPermissions replaces an agent's grants atomically. Position keeps the
// caller's order. Entitlement is checked against the share-locked agency.
func (s *Store) SetPermissions(ctx context.Context, userID string, grants []auth.PermissionGrant, alwaysOn []string) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	user, err := txUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	var agency auth.Agency
	if user.AgencyID != "" {
		if agency, err = lockAgency(ctx, tx, user.AgencyID); err != nil {
			return err
		}
	}
	if err := auth.CheckGrantTarget(user, agency, grants, alwaysOn); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from agent_permissions where user_id = $1`, userID); err != nil {
		return err
	}
	for i, g := range grants {
		acts, err := json.Marshal(g.Actions)
		if err != nil {
			return fmt.Errorf("marshal actions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into agent_permissions (user_id, module, actions, position)
			values ($1, $2, $3, $4)
		`, userID, g.Module, acts, i); err != nil {
			return mapWriteError(err)
		}
	}
	return tx.Commit()
}

// txUser reads a user inside tx without locking it; role and agency never
// change after creation.
func txUser(ctx context.Context, tx *sql.Tx, id string) (auth.User, error) {
	u, err := scanUser(tx.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

func (s *Store) Permissions(ctx context.Context, userID string) ([]auth.PermissionGrant, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select module, actions from agent_permissions
		where user_id = $1
		order by position
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []auth.PermissionGrant
	for rows.Next() {
		var (
			g   auth.PermissionGrant
			raw []byte
		)
		if err := rows.Scan(&g.Module, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &g.Actions); err != nil {
			return nil, fmt.Errorf("decode actions: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
