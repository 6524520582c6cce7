package user

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tastebook/tastebook/pkg/provider"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetBySubject(ctx context.Context, subject string) (User, error) {
	args := m.Called(ctx, subject)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockRepository) GetByID(ctx context.Context, id int64) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockRepository) Create(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}

func TestService_Resolve_ExistingUser(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	service := NewService(repo)

	existing := User{ID: 7, Subject: "prov-42", Email: "ada@example.com", DisplayName: "Ada"}
	repo.On("GetBySubject", ctx, "prov-42").Return(existing, nil)

	u, created, err := service.Resolve(ctx, provider.Identity{Subject: "prov-42", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing, u)
	repo.AssertExpectations(t)
}

func TestService_Resolve_CreatesNewUser(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	service := NewService(repo)

	repo.On("GetBySubject", ctx, "prov-42").Return(User{}, ErrNotFound)
	repo.On("Create", ctx, CreateUserParams{
		Subject:     "prov-42",
		Email:       "ada@example.com",
		DisplayName: "Ada Lovelace",
		AvatarURL:   "https://img.example.com/ada.png",
	}).Return(User{ID: 1, Subject: "prov-42", Email: "ada@example.com", DisplayName: "Ada Lovelace"}, nil)

	u, created, err := service.Resolve(ctx, provider.Identity{
		Subject:     "prov-42",
		Email:       "ada@example.com",
		DisplayName: "Ada Lovelace",
		AvatarURL:   "https://img.example.com/ada.png",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), u.ID)
	repo.AssertExpectations(t)
}

func TestService_Resolve_DisplayNameFallsBackToEmailLocalPart(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	service := NewService(repo)

	repo.On("GetBySubject", ctx, "prov-9").Return(User{}, ErrNotFound)
	repo.On("Create", ctx, mock.MatchedBy(func(params CreateUserParams) bool {
		return params.DisplayName == "graceh"
	})).Return(User{ID: 2, Subject: "prov-9", DisplayName: "graceh"}, nil)

	_, created, err := service.Resolve(ctx, provider.Identity{Subject: "prov-9", Email: "graceh@example.com"})
	require.NoError(t, err)
	assert.True(t, created)
	repo.AssertExpectations(t)
}

func TestService_Resolve_DuplicateInsertFetchesExisting(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	service := NewService(repo)

	winner := User{ID: 3, Subject: "prov-42", Email: "ada@example.com"}
	repo.On("GetBySubject", ctx, "prov-42").Return(User{}, ErrNotFound).Once()
	repo.On("Create", ctx, mock.Anything).Return(User{}, ErrDuplicateSubject)
	repo.On("GetBySubject", ctx, "prov-42").Return(winner, nil).Once()

	u, created, err := service.Resolve(ctx, provider.Identity{Subject: "prov-42", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner, u)
	repo.AssertExpectations(t)
}

func TestService_Resolve_ConcurrentSameSubject(t *testing.T) {
	ctx := context.Background()
	service := NewService(NewInMemRepository())

	identity := provider.Identity{Subject: "prov-42", Email: "ada@example.com", DisplayName: "Ada"}

	const callers = 8
	var wg sync.WaitGroup
	ids := make(chan int64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, _, err := service.Resolve(ctx, identity)
			require.NoError(t, err)
			ids <- u.ID
		}()
	}
	wg.Wait()
	close(ids)

	first := int64(-1)
	for id := range ids {
		if first == -1 {
			first = id
		}
		assert.Equal(t, first, id, "all concurrent resolves must land on the same user")
	}
}
