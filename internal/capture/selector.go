package capture

import (
	"fmt"
	"math"

	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gputypes"
)

// DefaultAspect is the preferred output aspect ratio.
const DefaultAspect = 16.0 / 9.0

const aspectTolerance = 0.01

// SelectOutput picks the stream configuration for a variant format.
//
// Among outputs of the required format it takes the largest one matching the
// preferred aspect, else the largest of any aspect. Without any output of that
// format it falls back to the device default. preferredAspect <= 0 disables
// the aspect preference.
func SelectOutput(outputs []OutputConfig, format gputypes.TextureFormat, preferredAspect float64) (OutputConfig, error) {
	var best, bestAspect OutputConfig
	found, foundAspect := false, false

	for _, o := range outputs {
		if o.Format != format || o.Width <= 0 || o.Height <= 0 {
			continue
		}
		if !found || area(o) > area(best) {
			best, found = o, true
		}
		if preferredAspect > 0 && matchesAspect(o, preferredAspect) {
			if !foundAspect || area(o) > area(bestAspect) {
				bestAspect, foundAspect = o, true
			}
		}
	}

	switch {
	case foundAspect:
		return bestAspect, nil
	case found:
		return best, nil
	}

	for _, o := range outputs {
		if o.Default {
			return o, nil
		}
	}
	return OutputConfig{}, fmt.Errorf("%w: no output for format and no default", types.ErrConfigurationFailed)
}

func area(o OutputConfig) int { return o.Width * o.Height }

func matchesAspect(o OutputConfig, aspect float64) bool {
	return math.Abs(float64(o.Width)/float64(o.Height)-aspect) < aspectTolerance
}
