package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/repository"
	"github.com/aman-churiwal/property-listings/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db         *storage.Database
	redis      *storage.RedisClient
	mr         *miniredis.Miniredis
	users      *repository.UserRepository
	propsRepo  *repository.PropertyRepository
	offersRepo *repository.OfferRepository
	auth       *AuthService
	properties *PropertyService
	offers     *OfferService
	security   *SecurityService
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.NewDatabase("sqlite://file:"+uuid.NewString()+"?mode=memory&cache=shared", logger.Silent)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	rc, err := storage.NewRedis(storage.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	env := &testEnv{
		db:         db,
		redis:      rc,
		mr:         mr,
		users:      repository.NewUserRepository(db),
		propsRepo:  repository.NewPropertyRepository(db),
		offersRepo: repository.NewOfferRepository(db),
	}
	env.auth = NewAuthService(env.users, rc, AuthConfig{
		JWTSecret:        "test-secret",
		JWTExpiryHours:   1,
		PasswordResetTTL: time.Hour,
	})
	env.properties = NewPropertyService(env.propsRepo, rc)
	env.offers = NewOfferService(env.offersRepo, env.propsRepo)
	env.security = NewSecurityService(repository.NewSecurityEventRepository(db), env.users, env.propsRepo, env.offersRepo)
	return env
}

func (e *testEnv) register(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := e.auth.Register(context.Background(), name, name+"@example.com", "correct-horse")
	require.NoError(t, err)
	return u
}

func (e *testEnv) listing(t *testing.T, owner *models.User, published bool) *models.Property {
	t.Helper()
	p, err := e.properties.Create(context.Background(), owner.ID.String(), PropertyInput{
		Title:        "Two bed flat",
		City:         "Lisbon",
		PropertyType: models.PropertyTypeApartment,
		Price:        250000,
		Bedrooms:     2,
		IsPublished:  published,
	})
	require.NoError(t, err)
	return p
}
