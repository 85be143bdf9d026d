package account

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/FACorreiaa/go-credentials-api/config"
	"github.com/FACorreiaa/go-credentials-api/internal/api/auth"
	"github.com/FACorreiaa/go-credentials-api/internal/types"
)

// MockAccountRepo is a mock implementation of the AccountRepo interface
type MockAccountRepo struct {
	mock.Mock
}

func (m *MockAccountRepo) FindByEmail(ctx context.Context, email string) (*types.Account, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Account), args.Error(1)
}

func (m *MockAccountRepo) FindByID(ctx context.Context, id int64) (*types.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Account), args.Error(1)
}

func (m *MockAccountRepo) List(ctx context.Context, search string) ([]types.Account, error) {
	args := m.Called(ctx, search)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Account), args.Error(1)
}

func (m *MockAccountRepo) Insert(ctx context.Context, username, email, passwordHash string) (int64, error) {
	args := m.Called(ctx, username, email, passwordHash)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAccountRepo) Update(ctx context.Context, id int64, username, email string) (*types.Account, error) {
	args := m.Called(ctx, id, username, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Account), args.Error(1)
}

func (m *MockAccountRepo) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAccountRepo) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockPublisher records published events.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event types.AccountEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type failingIssuer struct{}

func (failingIssuer) Issue(int64, string) (string, time.Time, error) {
	return "", time.Time{}, errors.New("signing key unavailable")
}

// MockHasher is a mock implementation of auth.PasswordHasher
type MockHasher struct {
	mock.Mock
}

func (m *MockHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	args := m.Called(ctx, plaintext)
	return args.String(0), args.Error(1)
}

func (m *MockHasher) Verify(ctx context.Context, plaintext, hash string) bool {
	return m.Called(ctx, plaintext, hash).Bool(0)
}

func testHasher(t *testing.T) *auth.BcryptHasher {
	t.Helper()
	h, err := auth.NewBcryptHasher(bcrypt.MinCost, 4)
	require.NoError(t, err)
	return h
}

func testIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(config.JWTConfig{SecretKey: "service-test-secret", Issuer: "test", AccessTokenTTL: time.Hour})
	require.NoError(t, err)
	return issuer
}

func newServiceWithRepo(t *testing.T, repo AccountRepo) *AccountServiceImpl {
	t.Helper()
	return NewAccountService(repo, testHasher(t), testIssuer(t), nil, nil, discardLogger)
}

func TestRegisterThenLogin(t *testing.T) {
	ctx := context.Background()
	svc := newServiceWithRepo(t, NewMemoryAccountRepo())
	issuer := testIssuer(t)

	credentials := []struct{ username, email, password string }{
		{"u1", "u1@x.com", "pw123"},
		{"Ünïcode", "uni@x.com", "pässwörd"},
		{"spaces", "spaces@x.com", "pass with spaces"},
		{"max", "max@x.com", strings.Repeat("p", auth.MaxPasswordBytes)},
	}
	for _, c := range credentials {
		t.Run(c.username, func(t *testing.T) {
			id, err := svc.Register(ctx, c.username, c.email, c.password)
			require.NoError(t, err)
			assert.Positive(t, id)

			result, err := svc.Login(ctx, c.email, c.password)
			require.NoError(t, err)
			assert.NotEmpty(t, result.Token)
			assert.Equal(t, types.AccountView{ID: id, Username: c.username, Email: c.email}, result.User)

			identity, err := issuer.Verify(result.Token)
			require.NoError(t, err)
			assert.Equal(t, id, identity.AccountID)
			assert.Equal(t, c.email, identity.Email)
		})
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("MissingFields", func(t *testing.T) {
		svc := newServiceWithRepo(t, new(MockAccountRepo))
		cases := [][3]string{
			{"", "a@x.com", "pw"},
			{"a", "", "pw"},
			{"a", "a@x.com", ""},
			{"   ", "a@x.com", "pw"},
		}
		for _, c := range cases {
			_, err := svc.Register(ctx, c[0], c[1], c[2])
			assert.ErrorIs(t, err, types.ErrValidation, c)
		}
	})

	t.Run("TooLong", func(t *testing.T) {
		svc := newServiceWithRepo(t, new(MockAccountRepo))

		_, err := svc.Register(ctx, strings.Repeat("u", 51), "a@x.com", "pw")
		assert.ErrorIs(t, err, types.ErrValidation)

		_, err = svc.Register(ctx, "u", strings.Repeat("e", 101), "pw")
		assert.ErrorIs(t, err, types.ErrValidation)

		_, err = svc.Register(ctx, "u", "a@x.com", strings.Repeat("p", auth.MaxPasswordBytes+1))
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("DuplicateEmailRegardlessOfOtherFields", func(t *testing.T) {
		svc := newServiceWithRepo(t, NewMemoryAccountRepo())

		_, err := svc.Register(ctx, "u1", "u1@x.com", "pw123")
		require.NoError(t, err)

		_, err = svc.Register(ctx, "someone-else", "u1@x.com", "different")
		assert.ErrorIs(t, err, types.ErrDuplicateEmail)
	})

	t.Run("StoresHashNotPlaintext", func(t *testing.T) {
		repo := new(MockAccountRepo)
		svc := newServiceWithRepo(t, repo)

		repo.On("Insert", mock.Anything, "u1", "u1@x.com", mock.MatchedBy(func(hash string) bool {
			return hash != "pw123" && bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw123")) == nil
		})).Return(int64(5), nil).Once()

		id, err := svc.Register(ctx, " u1 ", "u1@x.com ", "pw123")
		require.NoError(t, err)
		assert.Equal(t, int64(5), id)
		repo.AssertExpectations(t)
	})

	t.Run("StoreFailureIsUnavailable", func(t *testing.T) {
		repo := new(MockAccountRepo)
		svc := newServiceWithRepo(t, repo)
		repo.On("Insert", mock.Anything, "u1", "u1@x.com", mock.Anything).
			Return(int64(0), errors.New("connection reset by peer")).Once()

		_, err := svc.Register(ctx, "u1", "u1@x.com", "pw123")
		assert.ErrorIs(t, err, types.ErrStoreUnavailable)
		assert.NotContains(t, err.Error(), "pw123")
	})

	t.Run("PublishesEvent", func(t *testing.T) {
		publisher := new(MockPublisher)
		svc := NewAccountService(NewMemoryAccountRepo(), testHasher(t), testIssuer(t), publisher, nil, discardLogger)

		publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e types.AccountEvent) bool {
			return e.Type == types.AccountRegistered && e.AccountID == 1 && e.Email == "u1@x.com" && !e.OccurredAt.IsZero()
		})).Return(errors.New("broker down")).Once()

		// publish failures never fail the request
		id, err := svc.Register(ctx, "u1", "u1@x.com", "pw123")
		require.NoError(t, err)
		assert.Equal(t, int64(1), id)
		publisher.AssertExpectations(t)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("WrongPasswordAndUnknownEmailAreIndistinguishable", func(t *testing.T) {
		svc := newServiceWithRepo(t, NewMemoryAccountRepo())
		_, err := svc.Register(ctx, "u1", "u1@x.com", "pw123")
		require.NoError(t, err)

		wrongPassword, errWrong := svc.Login(ctx, "u1@x.com", "wrong")
		unknownEmail, errUnknown := svc.Login(ctx, "nobody@x.com", "pw123")

		assert.Nil(t, wrongPassword)
		assert.Nil(t, unknownEmail)
		assert.ErrorIs(t, errWrong, types.ErrInvalidCredentials)
		assert.ErrorIs(t, errUnknown, types.ErrInvalidCredentials)
		assert.Equal(t, errWrong.Error(), errUnknown.Error())
	})

	t.Run("UnknownEmailStillRunsBcrypt", func(t *testing.T) {
		svc := newServiceWithRepo(t, NewMemoryAccountRepo())

		_, err := svc.Login(ctx, "nobody@x.com", "pw123")
		assert.ErrorIs(t, err, types.ErrInvalidCredentials)
		assert.NotEmpty(t, svc.dummyHash)
		assert.True(t, strings.HasPrefix(svc.dummyHash, "$2"))
	})

	t.Run("CancelledFirstUnknownEmailKeepsDummyHash", func(t *testing.T) {
		svc := newServiceWithRepo(t, NewMemoryAccountRepo())
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := svc.Login(cancelled, "nobody@x.com", "pw123")
		assert.ErrorIs(t, err, types.ErrInvalidCredentials)
		require.NotEmpty(t, svc.dummyHash)
		assert.True(t, strings.HasPrefix(svc.dummyHash, "$2"))

		first := svc.dummyHash
		_, err = svc.Login(ctx, "other@x.com", "pw123")
		assert.ErrorIs(t, err, types.ErrInvalidCredentials)
		assert.Equal(t, first, svc.dummyHash)
	})

	t.Run("DummyHashRetriedAfterFailure", func(t *testing.T) {
		hasher := new(MockHasher)
		hasher.On("Hash", mock.Anything, dummyPassword).Return("", errors.New("hasher busy")).Once()
		hasher.On("Hash", mock.Anything, dummyPassword).Return("$2a$04$dummy", nil).Once()
		hasher.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(false)
		svc := NewAccountService(NewMemoryAccountRepo(), hasher, testIssuer(t), nil, nil, discardLogger)

		_, err := svc.Login(ctx, "nobody@x.com", "pw123")
		assert.ErrorIs(t, err, types.ErrInvalidCredentials)
		assert.Empty(t, svc.dummyHash)

		_, err = svc.Login(ctx, "nobody@x.com", "pw123")
		assert.ErrorIs(t, err, types.ErrInvalidCredentials)
		assert.Equal(t, "$2a$04$dummy", svc.dummyHash)
		hasher.AssertExpectations(t)
	})

	t.Run("EmptyFields", func(t *testing.T) {
		repo := new(MockAccountRepo)
		svc := newServiceWithRepo(t, repo)

		_, err := svc.Login(ctx, "", "pw")
		assert.ErrorIs(t, err, types.ErrInvalidCredentials)
		_, err = svc.Login(ctx, "u1@x.com", "")
		assert.ErrorIs(t, err, types.ErrInvalidCredentials)
		repo.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
	})

	t.Run("StoreDown", func(t *testing.T) {
		repo := new(MockAccountRepo)
		svc := newServiceWithRepo(t, repo)
		repo.On("FindByEmail", mock.Anything, "u1@x.com").
			Return(nil, errors.New("dial tcp: connection refused")).Once()

		_, err := svc.Login(ctx, "u1@x.com", "pw123")
		assert.ErrorIs(t, err, types.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, types.ErrInvalidCredentials)
	})

	t.Run("CorruptStoredHash", func(t *testing.T) {
		repo := new(MockAccountRepo)
		svc := newServiceWithRepo(t, repo)
		repo.On("FindByEmail", mock.Anything, "u1@x.com").
			Return(&types.Account{ID: 1, Username: "u1", Email: "u1@x.com", PasswordHash: "garbage"}, nil).Once()

		_, err := svc.Login(ctx, "u1@x.com", "pw123")
		assert.ErrorIs(t, err, types.ErrInvalidCredentials)
	})

	t.Run("TokenFailure", func(t *testing.T) {
		repo := NewMemoryAccountRepo()
		hasher := testHasher(t)
		hash, err := hasher.Hash(ctx, "pw123")
		require.NoError(t, err)
		_, err = repo.Insert(ctx, "u1", "u1@x.com", hash)
		require.NoError(t, err)

		svc := NewAccountService(repo, hasher, failingIssuer{}, nil, nil, discardLogger)
		_, err = svc.Login(ctx, "u1@x.com", "pw123")
		require.Error(t, err)
		assert.NotErrorIs(t, err, types.ErrInvalidCredentials)
	})
}

func TestListAccounts(t *testing.T) {
	ctx := context.Background()

	t.Run("ViewsOnly", func(t *testing.T) {
		repo := new(MockAccountRepo)
		svc := newServiceWithRepo(t, repo)
		repo.On("List", mock.Anything, "u1").Return([]types.Account{
			{ID: 2, Username: "u1b", Email: "u1b@x.com", PasswordHash: "secret-hash"},
			{ID: 1, Username: "u1", Email: "u1@x.com", PasswordHash: "secret-hash"},
		}, nil).Once()

		views, err := svc.ListAccounts(ctx, " u1 ")
		require.NoError(t, err)
		assert.Equal(t, []types.AccountView{
			{ID: 2, Username: "u1b", Email: "u1b@x.com"},
			{ID: 1, Username: "u1", Email: "u1@x.com"},
		}, views)
	})

	t.Run("EmptyIsNotNil", func(t *testing.T) {
		svc := newServiceWithRepo(t, NewMemoryAccountRepo())
		views, err := svc.ListAccounts(ctx, "")
		require.NoError(t, err)
		assert.NotNil(t, views)
		assert.Empty(t, views)
	})

	t.Run("StoreDown", func(t *testing.T) {
		repo := new(MockAccountRepo)
		svc := newServiceWithRepo(t, repo)
		repo.On("List", mock.Anything, "").Return(nil, errors.New("timeout")).Once()

		_, err := svc.ListAccounts(ctx, "")
		assert.ErrorIs(t, err, types.ErrStoreUnavailable)
	})
}

func TestUpdateAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("DuplicateLeavesBothIntact", func(t *testing.T) {
		repo := NewMemoryAccountRepo()
		svc := newServiceWithRepo(t, repo)

		id1, err := svc.Register(ctx, "u1", "u1@x.com", "pw1")
		require.NoError(t, err)
		id2, err := svc.Register(ctx, "u2", "u2@x.com", "pw2")
		require.NoError(t, err)

		_, err = svc.UpdateAccount(ctx, id2, "u2-renamed", "u1@x.com")
		assert.ErrorIs(t, err, types.ErrDuplicateEmail)

		first, err := svc.GetAccount(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, types.AccountView{ID: id1, Username: "u1", Email: "u1@x.com"}, *first)

		second, err := svc.GetAccount(ctx, id2)
		require.NoError(t, err)
		assert.Equal(t, types.AccountView{ID: id2, Username: "u2", Email: "u2@x.com"}, *second)

		// the untouched account can still log in with its old password
		_, err = svc.Login(ctx, "u2@x.com", "pw2")
		assert.NoError(t, err)
	})

	t.Run("ReturnsUpdatedView", func(t *testing.T) {
		svc := newServiceWithRepo(t, NewMemoryAccountRepo())
		id, err := svc.Register(ctx, "u1", "u1@x.com", "pw123")
		require.NoError(t, err)

		view, err := svc.UpdateAccount(ctx, id, "u1b", "u1b@x.com")
		require.NoError(t, err)
		assert.Equal(t, types.AccountView{ID: id, Username: "u1b", Email: "u1b@x.com"}, *view)

		_, err = svc.Login(ctx, "u1b@x.com", "pw123")
		assert.NoError(t, err)
	})

	t.Run("Validation", func(t *testing.T) {
		repo := new(MockAccountRepo)
		svc := newServiceWithRepo(t, repo)

		_, err := svc.UpdateAccount(ctx, 1, "", "a@x.com")
		assert.ErrorIs(t, err, types.ErrValidation)
		_, err = svc.UpdateAccount(ctx, 1, "a", " ")
		assert.ErrorIs(t, err, types.ErrValidation)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("NotFound", func(t *testing.T) {
		svc := newServiceWithRepo(t, NewMemoryAccountRepo())
		_, err := svc.UpdateAccount(ctx, 404, "u", "u@x.com")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("DeleteThenListExcludes", func(t *testing.T) {
		publisher := new(MockPublisher)
		publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
		svc := NewAccountService(NewMemoryAccountRepo(), testHasher(t), testIssuer(t), publisher, nil, discardLogger)

		id, err := svc.Register(ctx, "u1", "u1@x.com", "pw123")
		require.NoError(t, err)
		keep, err := svc.Register(ctx, "u2", "u2@x.com", "pw123")
		require.NoError(t, err)

		require.NoError(t, svc.DeleteAccount(ctx, id))

		views, err := svc.ListAccounts(ctx, "")
		require.NoError(t, err)
		for _, v := range views {
			assert.NotEqual(t, id, v.ID)
		}
		assert.Equal(t, []types.AccountView{{ID: keep, Username: "u2", Email: "u2@x.com"}}, views)

		assert.ErrorIs(t, svc.DeleteAccount(ctx, id), types.ErrNotFound)

		publisher.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(e types.AccountEvent) bool {
			return e.Type == types.AccountDeleted && e.AccountID == id
		}))
	})

	t.Run("StoreDown", func(t *testing.T) {
		repo := new(MockAccountRepo)
		svc := newServiceWithRepo(t, repo)
		repo.On("Delete", mock.Anything, int64(3)).Return(errors.New("broken pipe")).Once()

		assert.ErrorIs(t, svc.DeleteAccount(ctx, 3), types.ErrStoreUnavailable)
	})
}

func TestPing(t *testing.T) {
	repo := new(MockAccountRepo)
	svc := newServiceWithRepo(t, repo)
	repo.On("Ping", mock.Anything).Return(errors.New("down")).Once()

	assert.ErrorIs(t, svc.Ping(context.Background()), types.ErrStoreUnavailable)
}
