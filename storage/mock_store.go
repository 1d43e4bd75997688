package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cyp0633/librecur/expr"
)

// MockStore implements the Store interface for testing
type MockStore[D any] struct {
	mock.Mock
	Notifier
}

func (m *MockStore[D]) Query(ctx context.Context, pred expr.Expr) ([]Record[D], error) {
	args := m.Called(ctx, pred)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Record[D]), args.Error(1)
}

func (m *MockStore[D]) Get(ctx context.Context, keys ...RecordKey) ([]Record[D], error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Record[D]), args.Error(1)
}

// Apply records the call and notifies subscribers when the mocked result is
// a success, like a real store would after committing.
func (m *MockStore[D]) Apply(ctx context.Context, changes []Change[D]) error {
	args := m.Called(ctx, changes)
	if err := args.Error(0); err != nil {
		return err
	}
	m.Notify(ctx)
	return nil
}

var _ Store[struct{}] = (*MockStore[struct{}])(nil)
