package services

import (
	"context"
	"testing"

	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeBindings(t *testing.T, keys *KeyService, keyID string) int {
	t.Helper()
	key, err := keys.GetKey(context.Background(), keyID)
	require.NoError(t, err)
	n := 0
	for _, d := range key.Domains {
		if d.Status == models.DomainStatusActive {
			n++
		}
	}
	return n
}

func TestKeyService_CreateKey(t *testing.T) {
	db := newTestDB(t)
	keys := NewKeyService(db, testPolicy())
	credits := NewCreditService(db)
	ctx := context.Background()

	issued, err := keys.CreateKey(ctx, CreateKeyInput{Label: " Shop ", Plan: "PRO_MANUAL"})
	require.NoError(t, err)

	assert.Equal(t, models.PlanProManual, issued.Key.Plan)
	assert.Equal(t, "Shop", issued.Key.Label)
	assert.Equal(t, "gpt-4o-mini", issued.Key.Model)
	assert.Equal(t, 50, issued.Key.CreditsRemaining)
	assert.Equal(t, utils.HashAPIKey(issued.RawKey), issued.Key.KeyHash)
	assert.Equal(t, issued.RawKey[:14], issued.Key.KeyPrefix)
	require.NotNil(t, issued.Key.KeyToken)
	assert.Equal(t, issued.RawKey, *issued.Key.KeyToken)

	entries, err := credits.Entries(ctx, issued.Key.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ReasonInitialGrant, entries[0].Reason)
	assertLedgerMatches(t, credits, issued.Key.ID)

	zero := 0
	empty, err := keys.CreateKey(ctx, CreateKeyInput{Credits: &zero})
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, empty.Key.Plan)
	assert.Equal(t, 0, empty.Key.CreditsRemaining)

	_, err = keys.CreateKey(ctx, CreateKeyInput{Plan: "enterprise"})
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestKeyService_CreateKeyWithoutPlaintext(t *testing.T) {
	db := newTestDB(t)
	policy := testPolicy()
	policy.RetainPlaintext = false
	keys := NewKeyService(db, policy)

	issued, err := keys.CreateKey(context.Background(), CreateKeyInput{})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.RawKey)

	var stored models.APIKey
	require.NoError(t, db.First(&stored, "id = ?", issued.Key.ID).Error)
	assert.Nil(t, stored.KeyToken)
}

func TestKeyService_LinkDomainFreeLimit(t *testing.T) {
	db := newTestDB(t)
	keys := NewKeyService(db, testPolicy())
	ctx := context.Background()
	issued := seedKey(t, db, models.PlanFree, 5)

	first, err := keys.LinkDomain(ctx, issued.Key.ID, "HTTPS://Shop.Example.com/")
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", first.Domain)
	assert.Equal(t, models.DomainStatusActive, first.Status)

	// relinking an active domain is idempotent
	again, err := keys.LinkDomain(ctx, issued.Key.ID, "shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = keys.LinkDomain(ctx, issued.Key.ID, "blog.example.com")
	assert.ErrorIs(t, err, ErrFreePlanDomainLimit)
	assert.Equal(t, 1, activeBindings(t, keys, issued.Key.ID))
}

func TestKeyService_LinkDomainPaidUnlimited(t *testing.T) {
	db := newTestDB(t)
	keys := NewKeyService(db, testPolicy())
	issued := seedKey(t, db, models.PlanProManual, 5)

	for _, d := range []string{"a.example.com", "b.example.com", "c.example.com"} {
		_, err := keys.LinkDomain(context.Background(), issued.Key.ID, d)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, activeBindings(t, keys, issued.Key.ID))
}

func TestKeyService_LinkDomainErrors(t *testing.T) {
	db := newTestDB(t)
	keys := NewKeyService(db, testPolicy())
	issued := seedKey(t, db, models.PlanFree, 5)

	_, err := keys.LinkDomain(context.Background(), "missing", "a.example.com")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = keys.LinkDomain(context.Background(), issued.Key.ID, "  ")
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestKeyService_UnlinkAndReactivate(t *testing.T) {
	db := newTestDB(t)
	keys := NewKeyService(db, testPolicy())
	ctx := context.Background()
	issued := seedKey(t, db, models.PlanFree, 5)

	first, err := keys.LinkDomain(ctx, issued.Key.ID, "a.example.com")
	require.NoError(t, err)

	_, err = keys.UnlinkDomain(ctx, issued.Key.ID, "b.example.com")
	assert.ErrorIs(t, err, ErrDomainBindingNotFound)

	unlinked, err := keys.UnlinkDomain(ctx, issued.Key.ID, "A.EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, first.ID, unlinked.ID)
	assert.Equal(t, 0, activeBindings(t, keys, issued.Key.ID))

	// the freed slot can take a different domain
	_, err = keys.LinkDomain(ctx, issued.Key.ID, "b.example.com")
	require.NoError(t, err)

	// reactivating the revoked one now exceeds the limit
	_, err = keys.LinkDomain(ctx, issued.Key.ID, "a.example.com")
	assert.ErrorIs(t, err, ErrFreePlanDomainLimit)
	assert.Equal(t, 1, activeBindings(t, keys, issued.Key.ID))
}

func TestKeyService_SetModelAndStatus(t *testing.T) {
	db := newTestDB(t)
	keys := NewKeyService(db, testPolicy())
	ctx := context.Background()
	issued := seedKey(t, db, models.PlanFree, 5)

	key, err := keys.SetModel(ctx, issued.Key.ID, " gpt-4.1 ")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", key.Model)

	_, err = keys.SetModel(ctx, issued.Key.ID, "")
	assert.Error(t, err)

	key, err = keys.SetStatus(ctx, issued.Key.ID, "DISABLED")
	require.NoError(t, err)
	assert.Equal(t, models.KeyStatusDisabled, key.Status)

	_, err = keys.SetStatus(ctx, issued.Key.ID, "paused")
	assert.ErrorIs(t, err, ErrInvalidKeyStatus)

	_, err = keys.SetStatus(ctx, "missing", models.KeyStatusActive)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func newOwner(t *testing.T, keys *KeyService) (*AuthService, *RegisterResult) {
	t.Helper()
	auth := NewAuthService(keys.db, keys, nil)
	res, err := auth.Register(context.Background(), &RegisterRequest{Email: "owner@example.com", Password: "correct-horse", Name: "Owner"})
	require.NoError(t, err)
	return auth, res
}

func TestKeyService_OwnerDomains(t *testing.T) {
	db := newTestDB(t)
	keys := NewKeyService(db, testPolicy())
	ctx := context.Background()
	_, owner := newOwner(t, keys)
	userID := owner.User.ID

	_, err := keys.AddOwnerDomain(ctx, userID, "not a domain")
	assert.ErrorIs(t, err, ErrInvalidDomain)

	binding, err := keys.AddOwnerDomain(ctx, userID, "https://Shop.example.com/")
	require.NoError(t, err)
	assert.Equal(t, owner.Key.ID, binding.APIKeyID)

	_, err = keys.AddOwnerDomain(ctx, userID, "shop.example.com")
	assert.ErrorIs(t, err, ErrDomainExists)

	_, err = keys.AddOwnerDomain(ctx, userID, "blog.example.com")
	assert.ErrorIs(t, err, ErrFreePlanDomainLimit)

	// another account cannot remove it
	assert.ErrorIs(t, keys.RemoveOwnerDomain(ctx, userID+1, binding.ID), ErrDomainNotOwned)
	assert.ErrorIs(t, keys.RemoveOwnerDomain(ctx, userID, "missing"), ErrDomainNotOwned)

	require.NoError(t, keys.RemoveOwnerDomain(ctx, userID, binding.ID))
	assert.Equal(t, 0, activeBindings(t, keys, owner.Key.ID))

	// re-adding reactivates the same row
	again, err := keys.AddOwnerDomain(ctx, userID, "shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, binding.ID, again.ID)

	_, err = keys.AddOwnerDomain(ctx, 9999, "x.example.com")
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestKeyService_RotateOwnerKey(t *testing.T) {
	db := newTestDB(t)
	keys := NewKeyService(db, testPolicy())
	credits := NewCreditService(db)
	pluginAuth := NewPluginAuthService(db)
	ctx := context.Background()
	_, owner := newOwner(t, keys)

	_, err := keys.AddOwnerDomain(ctx, owner.User.ID, "shop.example.com")
	require.NoError(t, err)
	require.NoError(t, credits.Consume(ctx, owner.Key.ID, 1, models.ReasonChatCompletion, nil))

	rotated, err := keys.RotateOwnerKey(ctx, owner.User.ID)
	require.NoError(t, err)
	assert.Equal(t, owner.Key.ID, rotated.Key.ID)
	assert.NotEqual(t, owner.RawKey, rotated.RawKey)
	assert.NotEqual(t, owner.Key.KeyHash, rotated.Key.KeyHash)
	assert.NotEqual(t, owner.Key.KeyPrefix, rotated.Key.KeyPrefix)
	assert.Nil(t, rotated.Key.LastUsedAt)
	assert.Equal(t, 49, rotated.Key.CreditsRemaining)

	_, err = pluginAuth.Authorize(ctx, "Bearer "+owner.RawKey, "shop.example.com")
	assert.ErrorIs(t, err, ErrInvalidKey)

	result, err := pluginAuth.Authorize(ctx, "Bearer "+rotated.RawKey, "shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, owner.Key.ID, result.Key.ID)

	listed, err := keys.ListOwnerKeys(ctx, owner.User.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Len(t, listed[0].Domains, 1)

	_, err = keys.RotateOwnerKey(ctx, 9999)
	assert.ErrorIs(t, err, ErrNoKeys)
}
