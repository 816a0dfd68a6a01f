package fingerprint

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func baseProfile() Profile {
	return Profile{
		BrowserType:       "chromium",
		ScreenWidth:       1280,
		ScreenHeight:      720,
		Locale:            "en-US",
		TimezoneID:        "UTC",
		DeviceScaleFactor: 1.0,
	}
}

func TestValidateRejectsBadDimensions(t *testing.T) {
	t.Parallel()

	p := baseProfile()
	p.ScreenWidth = 0
	require.Error(t, p.Validate())

	p = baseProfile()
	p.ScreenHeight = -1
	require.Error(t, p.Validate())

	p = baseProfile()
	p.DeviceScaleFactor = 0
	require.Error(t, p.Validate())

	require.NoError(t, baseProfile().Validate())
}

func TestGenerateFixedProfileKeepsBase(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	base := baseProfile()
	base.UserAgent = "custom-agent/1.0"

	got := Generate(base, false, rng)
	require.Equal(t, base, got)
}

func TestGenerateFillsDefaultUserAgent(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	got := Generate(baseProfile(), false, rng)
	require.NotEmpty(t, got.UserAgent)
	require.Equal(t, 1280, got.ScreenWidth)
}

func TestGenerateRandomizedStaysInBounds(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	base := baseProfile()
	for i := 0; i < 200; i++ {
		got := Generate(base, true, rng)
		require.GreaterOrEqual(t, got.ScreenWidth, minRandomWidth)
		require.LessOrEqual(t, got.ScreenWidth, maxRandomWidth)
		require.GreaterOrEqual(t, got.ScreenHeight, minRandomHeight)
		require.LessOrEqual(t, got.ScreenHeight, maxRandomHeight)
		require.NotEmpty(t, got.UserAgent)
		require.NoError(t, got.Validate())
	}
	// Base is never mutated.
	require.Equal(t, baseProfile(), base)
}

func TestGenerateIsDeterministicForSeed(t *testing.T) {
	t.Parallel()

	a := Generate(baseProfile(), true, rand.New(rand.NewSource(7)))
	b := Generate(baseProfile(), true, rand.New(rand.NewSource(7)))
	require.Equal(t, a, b)
}

func TestGenerateUnknownBrowserFallsBackToChromium(t *testing.T) {
	t.Parallel()

	base := baseProfile()
	base.BrowserType = "netscape"
	got := Generate(base, false, rand.New(rand.NewSource(1)))
	require.Contains(t, got.UserAgent, "Chrome")
}
