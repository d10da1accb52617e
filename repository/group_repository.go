// repository/group_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fadhlanhapp/splitbill-backend/models"
)

// GroupRepository handles database operations for groups and their members
type GroupRepository struct {
	db *DB
}

// NewGroupRepository creates a new GroupRepository
func NewGroupRepository(db *DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// CreateBillWithGroup stores a bill, its group, the guest users and the
// initial members in one transaction
func (r *GroupRepository) CreateBillWithGroup(ctx context.Context, bill *models.Bill, group *models.Group, members []*models.GroupMember, guests []*models.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertBill(ctx, r.db, tx, bill); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO groups (id, name, bill_id, created_by, status, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		group.ID, group.Name, nullString(group.BillID), group.CreatedBy, group.Status,
		group.CreatedAt, group.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	for _, guest := range guests {
		if err := r.insertUser(ctx, tx, guest); err != nil {
			return err
		}
	}
	for _, member := range members {
		if err := r.insertMember(ctx, tx, member); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *GroupRepository) insertUser(ctx context.Context, tx *sql.Tx, user *models.User) error {
	_, err := tx.ExecContext(ctx, r.db.Rebind(
		"INSERT INTO users (id, name, is_guest, created_at) VALUES ($1, $2, $3, $4)"),
		user.ID, user.Name, user.IsGuest, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *GroupRepository) insertMember(ctx context.Context, tx *sql.Tx, member *models.GroupMember) error {
	_, err := tx.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO group_members (id, group_id, user_id, name, phone, is_guest, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		member.ID, member.GroupID, member.UserID, member.Name, nullString(member.Phone),
		member.IsGuest, member.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateMember
	}
	if err != nil {
		return fmt.Errorf("failed to insert group member: %w", err)
	}
	return nil
}

// GetGroup retrieves a group with its allocation data
func (r *GroupRepository) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var group models.Group
	var billID, receiverID, allocation sql.NullString
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT id, name, bill_id, created_by, status, payment_receiver_id, allocation_data,
          created_at, updated_at
         FROM groups WHERE id = $1`), groupID,
	).Scan(&group.ID, &group.Name, &billID, &group.CreatedBy, &group.Status, &receiverID,
		&allocation, &group.CreatedAt, &group.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	group.BillID = billID.String
	group.PaymentReceiverID = receiverID.String
	if allocation.Valid && allocation.String != "" {
		var aggregate models.AllocationAggregate
		if err := aggregate.Scan(allocation.String); err != nil {
			return nil, fmt.Errorf("failed to decode allocation data: %w", err)
		}
		group.AllocationData = &aggregate
	}
	return &group, nil
}

// ListMembers retrieves the members of a group in the order they joined
func (r *GroupRepository) ListMembers(ctx context.Context, groupID string) ([]*models.GroupMember, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(
		`SELECT id, group_id, user_id, name, phone, is_guest, created_at
         FROM group_members WHERE group_id = $1 ORDER BY created_at ASC, id ASC`), groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	members := []*models.GroupMember{}
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func scanMember(row rowScanner) (*models.GroupMember, error) {
	var member models.GroupMember
	var phone sql.NullString
	if err := row.Scan(&member.ID, &member.GroupID, &member.UserID, &member.Name, &phone,
		&member.IsGuest, &member.CreatedAt); err != nil {
		return nil, err
	}
	member.Phone = phone.String
	return &member, nil
}

// IsMember reports whether a user belongs to a group
func (r *GroupRepository) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		"SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND user_id = $2"),
		groupID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check group membership: %w", err)
	}
	return count > 0, nil
}

// lockOutstanding touches the group row only while it is outstanding. The
// conditional write serializes with SaveAllocation on the same row.
func (r *GroupRepository) lockOutstanding(ctx context.Context, tx *sql.Tx, groupID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, r.db.Rebind(
		"UPDATE groups SET updated_at = $1 WHERE id = $2 AND status = $3"),
		now, groupID, models.GroupStatusOutstanding,
	)
	if err != nil {
		return fmt.Errorf("failed to lock group: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to lock group: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var count int
	if err := tx.QueryRowContext(ctx, r.db.Rebind("SELECT COUNT(*) FROM groups WHERE id = $1"), groupID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check group: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	return fmt.Errorf("group %s: %w", groupID, ErrGroupNotOutstanding)
}

// AddMember adds a member to an outstanding group. guest is stored first
// when the member is not a registered user.
func (r *GroupRepository) AddMember(ctx context.Context, member *models.GroupMember, guest *models.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.lockOutstanding(ctx, tx, member.GroupID, member.CreatedAt); err != nil {
		return err
	}
	if guest != nil {
		if err := r.insertUser(ctx, tx, guest); err != nil {
			return err
		}
	}
	if err := r.insertMember(ctx, tx, member); err != nil {
		return err
	}

	return tx.Commit()
}

// RemoveMember deletes a member of an outstanding group and, for guests,
// the backing user record
func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, memberID string) (*models.GroupMember, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.lockOutstanding(ctx, tx, groupID, time.Now().UTC()); err != nil {
		return nil, err
	}

	member, err := scanMember(tx.QueryRowContext(ctx, r.db.Rebind(
		`SELECT id, group_id, user_id, name, phone, is_guest, created_at
         FROM group_members WHERE id = $1 AND group_id = $2`), memberID, groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", memberID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group member: %w", err)
	}

	if _, err := tx.ExecContext(ctx, r.db.Rebind("DELETE FROM group_members WHERE id = $1"), memberID); err != nil {
		return nil, fmt.Errorf("failed to delete group member: %w", err)
	}
	if member.IsGuest {
		_, err := tx.ExecContext(ctx, r.db.Rebind("DELETE FROM users WHERE id = $1 AND is_guest = $2"), member.UserID, true)
		if err != nil {
			return nil, fmt.Errorf("failed to delete guest user: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit member removal: %w", err)
	}
	return member, nil
}

// SaveAllocation flips the group to allocated, stores the aggregate and
// inserts the settlements as one unit. ErrGroupNotOutstanding is returned
// and nothing is written when the group was already allocated.
func (r *GroupRepository) SaveAllocation(ctx context.Context, groupID, receiverMemberID string, aggregate *models.AllocationAggregate, settlements []*models.Settlement) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.db.Rebind(
		`UPDATE groups
         SET status = $1, payment_receiver_id = $2, allocation_data = $3, updated_at = $4
         WHERE id = $5 AND status = $6`),
		models.GroupStatusAllocated, receiverMemberID, *aggregate, aggregate.UpdatedAt,
		groupID, models.GroupStatusOutstanding,
	)
	if err != nil {
		return fmt.Errorf("failed to update group status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update group status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("group %s: %w", groupID, ErrGroupNotOutstanding)
	}

	for _, settlement := range settlements {
		if err := insertSettlement(ctx, r.db, tx, settlement); err != nil {
			return err
		}
	}

	return tx.Commit()
}
