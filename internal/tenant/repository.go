package tenant

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"softphone-platform/pkg/utils"

	"github.com/google/uuid"
)

// Repository is the persistence contract for tenants, their numbers and agents.
type Repository interface {
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	FindTenantByAccountSID(ctx context.Context, accountSID string) (Tenant, error)

	// FindNumber looks up a normalized number across all tenants.
	FindNumber(ctx context.Context, number string) (ProviderNumber, error)
	// ActiveNumber returns the tenant's first active number (oldest first).
	ActiveNumber(ctx context.Context, tenantID string) (ProviderNumber, error)
	ListNumbers(ctx context.Context, tenantID string) ([]ProviderNumber, error)
	InsertNumber(ctx context.Context, n ProviderNumber) (ProviderNumber, error)
	// ReplaceNumbers deletes every number of the tenant and inserts the given set
	// in one transaction. Agent assignments survive for numbers present in both sets.
	ReplaceNumbers(ctx context.Context, tenantID string, numbers []ProviderNumber) error

	// AssignedAgents returns every agent assigned to the number, active or not.
	AssignedAgents(ctx context.Context, numberID string) ([]Agent, error)
	FindAgentByIdentity(ctx context.Context, tenantID, identity string) (Agent, error)

	SaveCredentials(ctx context.Context, tenantID string, c Credentials) error
	ClearCredentials(ctx context.Context, tenantID string) error
}

// PostgresRepo implements Repository over database/sql (pgx stdlib driver).
//
// NOTE: assumes tables tenants, provider_numbers, agents and number_assignments
// (internal/storage/migrations). provider_numbers.number is UNIQUE.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const tenantColumns = `id, name, account_sid, auth_token, api_key_sid, api_key_secret, app_sid, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (Tenant, error) {
	var t Tenant
	if err := row.Scan(
		&t.ID,
		&t.Name,
		&t.AccountSID,
		&t.AuthToken,
		&t.APIKeySID,
		&t.APIKeySecret,
		&t.AppSID,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

func (r *PostgresRepo) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return scanTenant(r.db.QueryRowContext(ctx, q, tenantID))
}

func (r *PostgresRepo) FindTenantByAccountSID(ctx context.Context, accountSID string) (Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE account_sid = $1 ORDER BY created_at LIMIT 1`
	return scanTenant(r.db.QueryRowContext(ctx, q, accountSID))
}

const numberColumns = `id, tenant_id, number, provider_sid, friendly_name, active, created_at`

func scanNumber(row interface{ Scan(...any) error }) (ProviderNumber, error) {
	var n ProviderNumber
	if err := row.Scan(
		&n.ID,
		&n.TenantID,
		&n.Number,
		&n.ProviderSID,
		&n.FriendlyName,
		&n.Active,
		&n.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProviderNumber{}, ErrNotFound
		}
		return ProviderNumber{}, err
	}
	return n, nil
}

func (r *PostgresRepo) FindNumber(ctx context.Context, number string) (ProviderNumber, error) {
	q := `SELECT ` + numberColumns + ` FROM provider_numbers WHERE number = $1`
	return scanNumber(r.db.QueryRowContext(ctx, q, number))
}

func (r *PostgresRepo) ActiveNumber(ctx context.Context, tenantID string) (ProviderNumber, error) {
	q := `SELECT ` + numberColumns + ` FROM provider_numbers
WHERE tenant_id = $1 AND active = TRUE
ORDER BY created_at, id
LIMIT 1`
	return scanNumber(r.db.QueryRowContext(ctx, q, tenantID))
}

func (r *PostgresRepo) ListNumbers(ctx context.Context, tenantID string) ([]ProviderNumber, error) {
	q := `SELECT ` + numberColumns + ` FROM provider_numbers WHERE tenant_id = $1 ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProviderNumber
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) InsertNumber(ctx context.Context, n ProviderNumber) (ProviderNumber, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.clock().UTC()
	}
	const q = `
INSERT INTO provider_numbers (id, tenant_id, number, provider_sid, friendly_name, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	if _, err := r.db.ExecContext(ctx, q, n.ID, n.TenantID, n.Number, n.ProviderSID, n.FriendlyName, n.Active, n.CreatedAt); err != nil {
		return ProviderNumber{}, mapUniqueViolation(err)
	}
	return n, nil
}

func (r *PostgresRepo) ReplaceNumbers(ctx context.Context, tenantID string, numbers []ProviderNumber) error {
	now := r.clock().UTC()
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Remember assignments by number so they can be re-linked after the replace.
		const selAssign = `
SELECT pn.number, na.agent_id
FROM number_assignments na
JOIN provider_numbers pn ON pn.id = na.number_id
WHERE pn.tenant_id = $1
`
		rows, err := tx.QueryContext(ctx, selAssign, tenantID)
		if err != nil {
			return err
		}
		kept := map[string][]string{}
		for rows.Next() {
			var number, agentID string
			if err := rows.Scan(&number, &agentID); err != nil {
				rows.Close()
				return err
			}
			kept[number] = append(kept[number], agentID)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM provider_numbers WHERE tenant_id = $1`, tenantID); err != nil {
			return err
		}

		const ins = `
INSERT INTO provider_numbers (id, tenant_id, number, provider_sid, friendly_name, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
		const link = `INSERT INTO number_assignments (number_id, agent_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
		for i, n := range numbers {
			id := n.ID
			if id == "" {
				id = uuid.NewString()
			}
			// Preserve provider ordering so "first active number" stays stable.
			createdAt := now.Add(time.Duration(i) * time.Microsecond)
			if _, err := tx.ExecContext(ctx, ins, id, tenantID, n.Number, n.ProviderSID, n.FriendlyName, n.Active, createdAt); err != nil {
				return mapUniqueViolation(err)
			}
			for _, agentID := range kept[n.Number] {
				if _, err := tx.ExecContext(ctx, link, id, agentID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *PostgresRepo) AssignedAgents(ctx context.Context, numberID string) ([]Agent, error) {
	const q = `
SELECT a.id, a.tenant_id, a.identity, a.name, a.active
FROM number_assignments na
JOIN agents a ON a.id = na.agent_id
WHERE na.number_id = $1
ORDER BY a.identity
`
	rows, err := r.db.QueryContext(ctx, q, numberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Identity, &a.Name, &a.Active); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) FindAgentByIdentity(ctx context.Context, tenantID, identity string) (Agent, error) {
	const q = `SELECT id, tenant_id, identity, name, active FROM agents WHERE tenant_id = $1 AND identity = $2`
	var a Agent
	if err := r.db.QueryRowContext(ctx, q, tenantID, identity).Scan(&a.ID, &a.TenantID, &a.Identity, &a.Name, &a.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, err
	}
	return a, nil
}

func (r *PostgresRepo) SaveCredentials(ctx context.Context, tenantID string, c Credentials) error {
	const q = `
UPDATE tenants
SET account_sid = $2, auth_token = $3, api_key_sid = $4, api_key_secret = $5, app_sid = $6, updated_at = $7
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, tenantID, c.AccountSID, c.AuthToken, c.KeySID, c.KeySecret, c.AppSID, r.clock().UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *PostgresRepo) ClearCredentials(ctx context.Context, tenantID string) error {
	const q = `
UPDATE tenants
SET account_sid = '', auth_token = '', api_key_sid = '', api_key_secret = '', app_sid = '', updated_at = $2
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, tenantID, r.clock().UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapUniqueViolation(err error) error {
	if utils.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}
