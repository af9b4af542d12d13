package collectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMeasurementWindowStandardTime(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	date := time.Date(2026, time.January, 15, 0, 0, 0, 0, loc)

	start, end := measurementWindow(date, loc)
	require.Equal(t, 0, start.Hour())
	require.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestMeasurementWindowDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	date := time.Date(2026, time.July, 8, 0, 0, 0, 0, loc)

	start, end := measurementWindow(date, loc)
	require.Equal(t, 1, start.Hour())
	require.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestDailyMaxExcludesSampleBeforeWindow(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	date := time.Date(2026, time.July, 8, 0, 0, 0, 0, loc)
	start, end := measurementWindow(date, loc)

	times := []any{"2026-07-08T00:00", "2026-07-08T01:00", "2026-07-08T12:00"}
	values := []any{99.0, 80.0, 85.0}

	max, found := dailyMax(times, values, start, end, loc)
	require.True(t, found)
	require.Equal(t, 85.0, max, "the 00:00 reading must be excluded on a DST day")
}

func TestModelFromMemberKey(t *testing.T) {
	require.Equal(t, "best_match", modelFromMemberKey("temperature_2m"))
	require.Equal(t, "gfs_ensemble", modelFromMemberKey("temperature_2m_gfs025_member01"))
	require.Equal(t, "ecmwf_ensemble", modelFromMemberKey("temperature_2m_ecmwf_ifs025_member01"))
}

func TestForecastModelsFromEnsembleModels(t *testing.T) {
	out := forecastModelsFromEnsembleModels([]string{"gfs_ensemble", "ecmwf_ifs025_ensemble"})
	require.Equal(t, "gfs_seamless,ecmwf_ifs025", out)
}
