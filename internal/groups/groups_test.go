package groups

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/crewdeck-go/pkg/database"
	"github.com/crewdeck-go/pkg/logger"
)

func setupResolver(t *testing.T) (*Resolver, *database.DB) {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gormDB.AutoMigrate(&Group{}, &Membership{}))

	db := &database.DB{DB: gormDB}
	return NewResolver(NewRepository(db), logger.NewNop()), db
}

func addMembership(t *testing.T, db *database.DB, groupID, email string, primary bool) {
	t.Helper()
	require.NoError(t, db.Create(&Membership{
		ID:      uuid.New().String(),
		GroupID: groupID,
		Email:   email,
		Primary: primary,
	}).Error)
}

func TestResolveByEmail(t *testing.T) {
	resolver, db := setupResolver(t)
	ctx := context.Background()

	addMembership(t, db, "group-a", "dev@example.com", false)
	addMembership(t, db, "group-b", "dev@example.com", true)

	gc := resolver.ResolveByEmail(ctx, "dev@example.com")
	assert.Equal(t, "group-b", gc.PrimaryGroupID)
	assert.ElementsMatch(t, []string{"group-a", "group-b"}, gc.GroupIDs)
	assert.Equal(t, "dev@example.com", gc.GroupEmail)
	assert.False(t, gc.Empty())
	assert.True(t, gc.HasAccess("group-a"))
	assert.False(t, gc.HasAccess("group-c"))
}

func TestResolveByEmailFallsBackToFirstGroup(t *testing.T) {
	resolver, db := setupResolver(t)

	addMembership(t, db, "group-a", "dev@example.com", false)

	gc := resolver.ResolveByEmail(context.Background(), "dev@example.com")
	assert.Equal(t, "group-a", gc.PrimaryGroupID)
}

func TestResolveUnknownEmailYieldsEmptyScope(t *testing.T) {
	resolver, _ := setupResolver(t)

	gc := resolver.ResolveByEmail(context.Background(), "nobody@example.com")
	assert.True(t, gc.Empty())
	assert.False(t, gc.HasAccess("group-a"))
}

func TestResolveEmptyEmailYieldsEmptyScope(t *testing.T) {
	resolver, _ := setupResolver(t)

	gc := resolver.ResolveByEmail(context.Background(), "")
	assert.True(t, gc.Empty())
}
