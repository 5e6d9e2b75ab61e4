package coherence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ghmbegerez/converge/internal/coherence"
	"github.com/ghmbegerez/converge/internal/store/memory"
)

func TestDocBaselinesRoundTrip(t *testing.T) {
	st := memory.New()
	baselines := coherence.NewDocBaselines(st)

	_, ok, err := baselines.Get(context.Background(), "q1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, baselines.Set(context.Background(), "q1", 12.5))
	v, ok, err := baselines.Get(context.Background(), "q1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 12.5, v)

	require.NoError(t, baselines.Set(context.Background(), "q2", 7))
	v1, ok, err := baselines.Get(context.Background(), "q1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 12.5, v1)
}
