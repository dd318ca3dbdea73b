package groups

import (
	"context"
	"time"

	"github.com/crewdeck-go/internal/domain/execution"
	"github.com/crewdeck-go/pkg/database"
	"github.com/crewdeck-go/pkg/logger"
)

// Group is an isolation boundary; every persisted record carries the id of
// exactly one group.
type Group struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (Group) TableName() string {
	return "groups"
}

// Membership links a user email to a group. Primary marks the group new
// records are written under.
type Membership struct {
	ID      string `gorm:"primaryKey;type:uuid" json:"id"`
	GroupID string `gorm:"index" json:"group_id"`
	Email   string `gorm:"index" json:"email"`
	Primary bool   `gorm:"column:is_primary" json:"primary"`
}

func (Membership) TableName() string {
	return "group_members"
}

type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) MembershipsByEmail(ctx context.Context, email string) ([]Membership, error) {
	var members []Membership
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Find(&members).Error
	return members, err
}

// Resolver builds a GroupContext from a caller identity. Resolution is
// fail-closed: any failure or unknown identity yields a context with an
// empty group set, so downstream reads return nothing rather than erroring
// in a way that confirms data exists.
type Resolver struct {
	repo   *Repository
	logger logger.Logger
}

func NewResolver(repo *Repository, log logger.Logger) *Resolver {
	return &Resolver{repo: repo, logger: log}
}

func (r *Resolver) ResolveByEmail(ctx context.Context, email string) execution.GroupContext {
	gc := execution.GroupContext{GroupEmail: email}
	if email == "" {
		return gc
	}

	members, err := r.repo.MembershipsByEmail(ctx, email)
	if err != nil {
		r.logger.Error("group resolution failed", "email", email, "error", err)
		return gc
	}

	for _, m := range members {
		gc.GroupIDs = append(gc.GroupIDs, m.GroupID)
		if m.Primary {
			gc.PrimaryGroupID = m.GroupID
		}
	}
	if gc.PrimaryGroupID == "" && len(gc.GroupIDs) > 0 {
		gc.PrimaryGroupID = gc.GroupIDs[0]
	}

	return gc
}
