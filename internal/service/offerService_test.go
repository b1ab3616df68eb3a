package service

import (
	"context"
	"strings"
	"testing"

	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffer_Create(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	owner := env.register(t, "owner")
	buyer := env.register(t, "buyer")
	published := env.listing(t, owner, true)
	draft := env.listing(t, owner, false)

	_, err := env.offers.Create(ctx, draft.ID.String(), buyer.ID.String(), 1000, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.offers.Create(ctx, published.ID.String(), owner.ID.String(), 1000, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.offers.Create(ctx, published.ID.String(), buyer.ID.String(), 0, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.offers.Create(ctx, published.ID.String(), buyer.ID.String(), 10, strings.Repeat("x", 2001))
	assert.ErrorIs(t, err, ErrInvalidInput)

	offer, err := env.offers.Create(ctx, published.ID.String(), buyer.ID.String(), 240000, " Cash buyer ")
	require.NoError(t, err)
	assert.Equal(t, models.OfferPending, offer.Status)
	assert.Equal(t, "Cash buyer", offer.Message)

	mine, err := env.offers.ListMine(ctx, buyer.ID.String(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestOffer_Visibility(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	owner := env.register(t, "owner")
	buyer := env.register(t, "buyer")
	stranger := env.register(t, "stranger")
	p := env.listing(t, owner, true)

	offer, err := env.offers.Create(ctx, p.ID.String(), buyer.ID.String(), 1000, "")
	require.NoError(t, err)

	_, err = env.offers.Get(ctx, offer.ID.String(), buyer.ID.String())
	assert.NoError(t, err)
	_, err = env.offers.Get(ctx, offer.ID.String(), owner.ID.String())
	assert.NoError(t, err)
	_, err = env.offers.Get(ctx, offer.ID.String(), stranger.ID.String())
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := env.offers.ListForProperty(ctx, p.ID.String(), owner.ID.String())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = env.offers.ListForProperty(ctx, p.ID.String(), buyer.ID.String())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestOffer_StatusTransitions(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	owner := env.register(t, "owner")
	buyer := env.register(t, "buyer")
	p := env.listing(t, owner, true)

	offer, err := env.offers.Create(ctx, p.ID.String(), buyer.ID.String(), 1000, "")
	require.NoError(t, err)
	id := offer.ID.String()

	_, err = env.offers.UpdateStatus(ctx, id, buyer.ID.String(), models.OfferAccepted)
	assert.ErrorIs(t, err, ErrForbidden, "buyers cannot accept their own offer")

	_, err = env.offers.UpdateStatus(ctx, id, owner.ID.String(), models.OfferWithdrawn)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.offers.UpdateStatus(ctx, id, owner.ID.String(), models.OfferPending)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.offers.UpdateStatus(ctx, id, owner.ID.String(), "sold")
	assert.ErrorIs(t, err, ErrInvalidInput)

	accepted, err := env.offers.UpdateStatus(ctx, id, owner.ID.String(), models.OfferAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.OfferAccepted, accepted.Status)

	_, err = env.offers.UpdateStatus(ctx, id, buyer.ID.String(), models.OfferWithdrawn)
	assert.ErrorIs(t, err, ErrConflict)

	second, err := env.offers.Create(ctx, p.ID.String(), buyer.ID.String(), 900, "")
	require.NoError(t, err)
	withdrawn, err := env.offers.UpdateStatus(ctx, second.ID.String(), buyer.ID.String(), models.OfferWithdrawn)
	require.NoError(t, err)
	assert.Equal(t, models.OfferWithdrawn, withdrawn.Status)
}
