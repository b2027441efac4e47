package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// AccountRepository reads the two disjoint identity stores: students
// (standard accounts) and licensed_students (licensed accounts).
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Resolve looks the student id up in both stores with a single round trip.
// If an id ever appears in both, the licensed row wins because its policy is stricter.
func (r *AccountRepository) Resolve(ctx context.Context, studentID string) (model.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT 'licensed' AS kind, id, name, department, license_key
		   FROM licensed_students WHERE id = $1
		 UNION ALL
		 SELECT 'standard' AS kind, id, name, department, ''
		   FROM students WHERE id = $1`, studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	defer rows.Close()

	var found model.Account
	for rows.Next() {
		var kind, id, name, dept, licenseKey string
		if err := rows.Scan(&kind, &id, &name, &dept, &licenseKey); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		switch model.AccountKind(kind) {
		case model.AccountKindLicensed:
			found = model.LicensedAccount{ID: id, Name: name, Dept: dept, LicenseKey: licenseKey}
		case model.AccountKindStandard:
			if found == nil {
				found = model.StandardAccount{ID: id, Name: name, Dept: dept}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}
