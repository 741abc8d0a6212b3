package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	require.Equal(t, 500*time.Millisecond, Backoff(0))
	require.Equal(t, 500*time.Millisecond, Backoff(1))
	require.Equal(t, time.Second, Backoff(2))
	require.Equal(t, 2*time.Second, Backoff(3))
	require.Equal(t, maxDelay, Backoff(20))
}
