package repository

import (
	"database/sql"

	"github.com/coldpitch/outreach-backend/internal/model"
)

// ContactRepositoryInterface defines methods used by the services
type ContactRepositoryInterface interface {
	GetByID(id int64) (*model.Contact, error)
	ResolveListMembers(tenantID int64, listIDs []int64) ([]int64, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

// GetByID fetches a contact by ID
func (r *ContactRepository) GetByID(id int64) (*model.Contact, error) {
	query := `
        SELECT id, tenant_id, email, first_name, last_name, company, title
        FROM contacts
        WHERE id = $1
    `
	row := r.DB.QueryRow(query, id)

	var c model.Contact
	if err := row.Scan(&c.ID, &c.TenantID, &c.Email, &c.FirstName, &c.LastName, &c.Company, &c.Title); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

// ResolveListMembers returns the de-duplicated member contact ids of the
// given lists, in stable list order (list position, then list order as
// passed by the caller). The first occurrence of a contact wins.
func (r *ContactRepository) ResolveListMembers(tenantID int64, listIDs []int64) ([]int64, error) {
	resolved := []int64{}
	if len(listIDs) == 0 {
		return resolved, nil
	}

	seen := map[int64]bool{}
	for _, listID := range listIDs {
		query := `
            SELECT m.contact_id
            FROM contact_list_members m
            JOIN contact_lists l ON l.id = m.list_id
            WHERE m.list_id = $1 AND l.tenant_id = $2
            ORDER BY m.position ASC
        `
		rows, err := r.DB.Query(query, listID, tenantID)
		if err != nil {
			return nil, err
		}

		for rows.Next() {
			var contactID int64
			if err := rows.Scan(&contactID); err != nil {
				rows.Close()
				return nil, err
			}
			if !seen[contactID] {
				seen[contactID] = true
				resolved = append(resolved, contactID)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return resolved, nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
