package metrics_test

import (
	"errors"
	"testing"

	"github.com/aussiebroadwan/sessionkit/internal/sessiond/metrics"
	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSessionMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.NewSession(reg)

	m.ObserveRefresh(authsdk.RefreshOutcomeRefreshed)
	m.ObserveRefresh(authsdk.RefreshOutcomeShared)
	m.ObserveRefresh(authsdk.RefreshOutcomeShared)
	m.ObserveRetry(authsdk.RetryOutcomeExhausted)
	m.ObserveSignIn("password", nil)
	m.ObserveSignIn("password", errors.New("nope"))

	count, err := testutil.GatherAndCount(reg, "session_refresh_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "dispatch_retries_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = testutil.GatherAndCount(reg, "session_signin_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
