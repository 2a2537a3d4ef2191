package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/flowseq/internal/sequence"
	"github.com/abramin/flowseq/internal/sequence/sequencetest"
	"github.com/abramin/flowseq/internal/session"
)

func TestManagerLifecycle(t *testing.T) {
	f := newFixture()
	mgr, err := session.NewManager(f.model, sequence.DefaultParams(), sequence.ExcludeType("shop.Ledger"))
	require.NoError(t, err)

	s, err := mgr.Create(sequencetest.Handle(f.place))
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, 1, mgr.Len())

	got, err := mgr.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, []sequence.Rule{sequence.ExcludeType("shop.Ledger")}, s.Filters())

	res, err := s.Regenerate(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Text, "activation 2.1 filtered-cut")

	other, err := mgr.Create(sequencetest.Handle(f.charge))
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), other.ID())
	assert.Len(t, mgr.List(), 2)

	require.NoError(t, mgr.Delete(s.ID()))
	_, err = mgr.Get(s.ID())
	require.ErrorIs(t, err, session.ErrNotFound)
	require.ErrorIs(t, mgr.Delete(s.ID()), session.ErrNotFound)
	assert.Nil(t, s.Current())

	mgr.CloseAll()
	assert.Equal(t, 0, mgr.Len())
}

func TestManagerRejectsBadInput(t *testing.T) {
	f := newFixture()

	_, err := session.NewManager(f.model, sequence.DefaultParams(), sequence.ExcludeMethod("shop.Ledger", "", nil))
	require.ErrorIs(t, err, sequence.ErrMalformedFilterRule)

	mgr, err := session.NewManager(f.model, sequence.DefaultParams())
	require.NoError(t, err)
	_, err = mgr.Create("shop.Missing.handle()")
	require.ErrorIs(t, err, sequence.ErrInvalidHandle)
	assert.Equal(t, 0, mgr.Len())
}
