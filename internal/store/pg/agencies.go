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

const agencyColumns = `id, name, status, active_modules, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgency(row rowScanner) (auth.Agency, error) {
	var (
		a       auth.Agency
		status  string
		modules []byte
	)
	if err := row.Scan(&a.ID, &a.Name, &status, &modules, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return auth.Agency{}, err
	}
	a.Status = auth.AgencyStatus(status)
	a.ActiveModules = []string{}
	if len(modules) > 0 {
		if err := json.Unmarshal(modules, &a.ActiveModules); err != nil {
			return auth.Agency{}, fmt.Errorf("decode active_modules: %w", err)
		}
	}
	return a, nil
}

func encodeModules(modules []string) ([]byte, error) {
	if modules == nil {
		modules = []string{}
	}
	return json.Marshal(modules)
}

func (s *Store) CreateAgency(ctx context.Context, name string, modules []string) (auth.Agency, error) {
	if s.db == nil {
		return auth.Agency{}, errNoDB
	}
	raw, err := encodeModules(modules)
	if err != nil {
		return auth.Agency{}, err
	}
	a, err := scanAgency(s.db.QueryRowContext(ctx, `
		insert into agencies (id, name, status, active_modules)
		values ($1, $2, $3, $4)
		returning `+agencyColumns,
		ids.NewWithPrefix(ids.PrefixAgency), name, string(auth.AgencyPending), raw))
	if err != nil {
		return auth.Agency{}, mapWriteError(err)
	}
	return a, nil
}

func (s *Store) GetAgency(ctx context.Context, id string) (auth.Agency, error) {
	if s.db == nil {
		return auth.Agency{}, errNoDB
	}
	a, err := scanAgency(s.db.QueryRowContext(ctx, `select `+agencyColumns+` from agencies where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Agency{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Agency{}, err
	}
	return a, nil
}

func (s *Store) ListAgencies(ctx context.Context) ([]auth.Agency, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+agencyColumns+` from agencies order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []auth.Agency{}
	for rows.Next() {
		a, err := scanAgency(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateAgencyStatus sets the status and, when the agency leaves approved,
// suspends its active agents in the same transaction.
func (s *Store) UpdateAgencyStatus(ctx context.Context, id string, status auth.AgencyStatus) (auth.Agency, int, error) {
	if s.db == nil {
		return auth.Agency{}, 0, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Agency{}, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAgency(tx.QueryRowContext(ctx, `
		update agencies set status = $2, updated_at = now()
		where id = $1
		returning `+agencyColumns, id, string(status)))
	if err != nil {
		return auth.Agency{}, 0, mapWriteError(err)
	}
	suspended := 0
	if status != auth.AgencyApproved {
		res, err := tx.ExecContext(ctx, `
			update users set status = $2, updated_at = now()
			where agency_id = $1 and role = $3 and status = $4
		`, id, string(auth.StatusSuspended), string(auth.RoleAgent), string(auth.StatusActive))
		if err != nil {
			return auth.Agency{}, 0, fmt.Errorf("suspend agents: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return auth.Agency{}, 0, err
		}
		suspended = int(n)
	}
	if err := tx.Commit(); err != nil {
		return auth.Agency{}, 0, err
	}
	return a, suspended, nil
}

// UpdateAgencyModules replaces the whole list and deletes agent grants for
// modules outside keep in one transaction. Readers see either the old state
// or the new one.
func (s *Store) UpdateAgencyModules(ctx context.Context, id string, modules, keep []string) (auth.Agency, int, error) {
	if s.db == nil {
		return auth.Agency{}, 0, errNoDB
	}
	raw, err := encodeModules(modules)
	if err != nil {
		return auth.Agency{}, 0, err
	}
	keepRaw, err := encodeModules(keep)
	if err != nil {
		return auth.Agency{}, 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Agency{}, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAgency(tx.QueryRowContext(ctx, `
		update agencies set active_modules = $2, updated_at = now()
		where id = $1
		returning `+agencyColumns, id, raw))
	if err != nil {
		return auth.Agency{}, 0, mapWriteError(err)
	}
	res, err := tx.ExecContext(ctx, `
		delete from agent_permissions p
		using users u
		where p.user_id = u.id
		  and u.agency_id = $1
		  and not (to_jsonb(p.module) <@ $2::jsonb)
	`, id, keepRaw)
	if err != nil {
		return auth.Agency{}, 0, fmt.Errorf("prune grants: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return auth.Agency{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return auth.Agency{}, 0, err
	}
	return a, int(n), nil
}

// lockAgency reads the agency row with a share lock held until tx ends, so
// status and module changes wait for the caller's write.
func lockAgency(ctx context.Context, tx *sql.Tx, id string) (auth.Agency, error) {
	a, err := scanAgency(tx.QueryRowContext(ctx, `select `+agencyColumns+` from agencies where id = $1 for share`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Agency{}, auth.ErrNotFound
	}
	return a, err
}
