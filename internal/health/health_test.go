package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReporterDegradesAtThreshold(t *testing.T) {
	t.Parallel()

	r := New(3, zap.NewNop())
	err := errors.New("endpoint down")

	r.ReportFailure("analyzer", err)
	r.ReportFailure("analyzer", err)
	require.False(t, r.Degraded("analyzer"))
	require.True(t, r.Healthy())

	r.ReportFailure("analyzer", err)
	require.True(t, r.Degraded("analyzer"))
	require.False(t, r.Healthy())
}

func TestReporterSuccessClearsStreak(t *testing.T) {
	t.Parallel()

	r := New(2, zap.NewNop())
	err := errors.New("boom")

	r.ReportFailure("fetcher", err)
	r.ReportOK("fetcher")
	r.ReportFailure("fetcher", err)
	require.False(t, r.Degraded("fetcher"), "streak should reset after a success")

	r.ReportFailure("fetcher", err)
	r.ReportFailure("fetcher", err)
	require.True(t, r.Degraded("fetcher"))

	r.ReportOK("fetcher")
	require.False(t, r.Degraded("fetcher"))
	require.True(t, r.Healthy())
}

func TestReporterTracksComponentsIndependently(t *testing.T) {
	t.Parallel()

	r := New(1, zap.NewNop())
	r.ReportFailure("analyzer", errors.New("x"))
	require.True(t, r.Degraded("analyzer"))
	require.False(t, r.Degraded("fetcher"))
	require.False(t, r.Healthy())
}

func TestReporterClampsThreshold(t *testing.T) {
	t.Parallel()

	r := New(0, zap.NewNop())
	r.ReportFailure("sink", errors.New("x"))
	require.True(t, r.Degraded("sink"))
}
