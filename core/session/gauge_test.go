package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActiveCountFloorsAtZero(t *testing.T) {
	var g ActiveCount
	require.EqualValues(t, 0, g.Dec())
	require.EqualValues(t, 1, g.Inc())
	require.EqualValues(t, 0, g.Dec())
	require.EqualValues(t, 0, g.Dec())
}

func TestActiveCountReconcile(t *testing.T) {
	var g ActiveCount
	g.Inc()
	g.Inc()
	require.EqualValues(t, 5, g.Reconcile(5))
	require.EqualValues(t, 0, g.Reconcile(-3))
	require.EqualValues(t, 0, g.Value())
}
