package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func TestRolesColumnEncoding(t *testing.T) {
	require.Equal(t, "user,admin", joinRoles([]string{domain.RoleUser, domain.RoleAdmin}))
	require.Equal(t, []string{"user", "admin"}, splitRoles(" user, ,admin"))
	require.Nil(t, splitRoles(""))
}

func TestUserRepositoryIntegration(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewUserRepository(store)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	created, err := repo.Create(ctx, domain.User{
		Username:     "juan",
		Email:        "juan@test.com",
		PasswordHash: "hash",
		Roles:        []string{domain.RoleUser},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	_, err = repo.Create(ctx, domain.User{Username: "JUAN", Email: "x@test.com", PasswordHash: "h", CreatedAt: now, UpdatedAt: now})
	require.ErrorIs(t, err, domain.ErrUserAlreadyExists)

	found, err := repo.FindByLogin(ctx, "Juan@Test.com")
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)
	require.Equal(t, []string{domain.RoleUser}, found.Roles)

	found.Roles = []string{domain.RoleUser, domain.RoleAdmin}
	found.UpdatedAt = now.Add(time.Minute)
	saved, err := repo.Save(ctx, found)
	require.NoError(t, err)
	require.True(t, saved.CreatedAt.Equal(now))

	users, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.True(t, users[0].HasRole(domain.RoleAdmin))

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.Get(ctx, created.ID)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	require.ErrorIs(t, repo.Delete(ctx, created.ID), domain.ErrUserNotFound)
}
