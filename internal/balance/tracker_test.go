package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"threetick/pkg/exchanges/common"
)

type stubSource struct {
	free []string
	errs []error
}

func (s *stubSource) FetchBalance(ctx context.Context) (common.Balance, error) {
	free, err := s.free[0], s.errs[0]
	s.free, s.errs = s.free[1:], s.errs[1:]
	if err != nil {
		return common.Balance{}, err
	}
	return common.Balance{Free: decimal.RequireFromString(free)}, nil
}

func TestTrackerBaselineRollsForward(t *testing.T) {
	src := &stubSource{free: []string{"1000", "1050"}, errs: []error{nil, nil}}
	tr := NewTracker(src, zap.NewNop())
	assert.True(t, tr.Baseline().IsZero())

	_, err := tr.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000", tr.Baseline().String())
	assert.False(t, tr.Snapshot().AsOf.IsZero())

	_, err = tr.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1050", tr.Baseline().String())
}

func TestTrackerFetchErrorKeepsBaseline(t *testing.T) {
	down := errors.New("connection reset")
	src := &stubSource{free: []string{"1000", ""}, errs: []error{nil, down}}
	tr := NewTracker(src, zap.NewNop())

	_, err := tr.Sync(context.Background())
	require.NoError(t, err)

	bal, err := tr.Sync(context.Background())
	require.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, "1000", bal.Free.String())
	assert.Equal(t, "1000", tr.Baseline().String())
}

func TestTrackerExhausted(t *testing.T) {
	tests := []struct {
		name string
		free string
	}{
		{"zero", "0"},
		{"negative", "-3.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(&stubSource{free: []string{tt.free}, errs: []error{nil}}, zap.NewNop())
			_, err := tr.Sync(context.Background())
			assert.ErrorIs(t, err, ErrExhausted)
		})
	}
}
