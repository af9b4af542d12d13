package collectors

import (
	"testing"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestInferResult(t *testing.T) {
	require.Equal(t, domain.ResultYes, inferResult("yes"))
	require.Equal(t, domain.ResultNo, inferResult("NO"))
	require.Equal(t, domain.ResultUnknown, inferResult(""))
}

func TestSameLocalDate(t *testing.T) {
	a := time.Date(2026, 7, 8, 23, 0, 0, 0, time.UTC)
	b := time.Date(2026, 7, 8, 1, 0, 0, 0, time.UTC)
	c := time.Date(2026, 7, 9, 1, 0, 0, 0, time.UTC)
	require.True(t, sameLocalDate(a, b))
	require.False(t, sameLocalDate(a, c))
}

func TestMaxTempPatternExtractsIntegerHigh(t *testing.T) {
	text := "...\nMAXIMUM TEMPERATURE\nYESTERDAY 88\nTODAY 91\n..."
	match := maxTempPattern.FindStringSubmatch(text)
	require.Len(t, match, 2)
	require.Equal(t, "91", match[1])
}
