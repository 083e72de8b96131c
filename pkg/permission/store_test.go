package permission

import (
	"context"
	"errors"
	"sync/atomic"
)

type fakeStore struct {
	configs TableConfigs
	auth    map[int64]AuthContext
	users   map[string]User
	err     error

	configCalls atomic.Int32
	authCalls   atomic.Int32
}

func (s *fakeStore) LookupUser(_ context.Context, username string) (User, error) {
	u, ok := s.users[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *fakeStore) TableConfigs(context.Context) (TableConfigs, error) {
	s.configCalls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.configs, nil
}

func (s *fakeStore) AuthContext(_ context.Context, userID int64) (AuthContext, error) {
	s.authCalls.Add(1)
	if s.err != nil {
		return AuthContext{}, s.err
	}
	a, ok := s.auth[userID]
	if !ok {
		return AuthContext{}, ErrUserNotFound
	}
	return a, nil
}

var errStoreDown = errors.New("store down")
