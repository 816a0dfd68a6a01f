// Package fingerprint builds browser identity profiles for fetch sessions.
package fingerprint

import (
	"fmt"
	"math/rand"
	"strings"
)

// Geolocation is the coordinate pair presented to the remote site.
type Geolocation struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// Profile describes the browser identity used for one session. It is a value
// type and never mutated after a session opens.
type Profile struct {
	BrowserType       string
	UserAgent         string
	ScreenWidth       int
	ScreenHeight      int
	Locale            string
	TimezoneID        string
	DeviceScaleFactor float64
	Geolocation       Geolocation
}

// Validate enforces the dimensional invariants on a profile.
func (p Profile) Validate() error {
	if p.ScreenWidth <= 0 || p.ScreenHeight <= 0 {
		return fmt.Errorf("screen dimensions must be > 0, got %dx%d", p.ScreenWidth, p.ScreenHeight)
	}
	if p.DeviceScaleFactor <= 0 {
		return fmt.Errorf("device scale factor must be > 0, got %g", p.DeviceScaleFactor)
	}
	return nil
}

// Randomized viewport bounds, matching common desktop screens.
const (
	minRandomWidth  = 1024
	maxRandomWidth  = 1920
	minRandomHeight = 768
	maxRandomHeight = 1080
)

// userAgents maps a browser type to a pool of current desktop user agents.
var userAgents = map[string][]string{
	"chromium": {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	},
	"firefox": {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:126.0) Gecko/20100101 Firefox/126.0",
	},
	"webkit": {
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	},
}

// Generate returns the profile to open the next session with. It is a pure
// function of its inputs: when randomize is false the base profile is
// returned with a browser-appropriate user agent filled in if the base left
// it empty; when randomize is true a fresh user agent and viewport are drawn
// from rng.
func Generate(base Profile, randomize bool, rng *rand.Rand) Profile {
	out := base
	pool := userAgents[strings.ToLower(base.BrowserType)]
	if len(pool) == 0 {
		pool = userAgents["chromium"]
	}

	if randomize {
		out.UserAgent = pool[rng.Intn(len(pool))]
		out.ScreenWidth = minRandomWidth + rng.Intn(maxRandomWidth-minRandomWidth+1)
		out.ScreenHeight = minRandomHeight + rng.Intn(maxRandomHeight-minRandomHeight+1)
		return out
	}

	if out.UserAgent == "" {
		out.UserAgent = pool[0]
	}
	return out
}
