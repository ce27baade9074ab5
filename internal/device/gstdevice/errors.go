package gstdevice

import (
	"fmt"
	"strings"

	"github.com/e7canasta/framebridge/internal/types"
	"github.com/tinyzimmer/go-gst/gst"
)

// classifyGError maps a GStreamer bus error to the typed camera errors.
//
// go-gst's GError does not expose the error domain, so classification relies
// on message heuristics from v4l2src and the negotiation machinery.
func classifyGError(gerr *gst.GError) error {
	if gerr == nil {
		return types.ErrDisconnected
	}
	return classify(gerr.Error(), gerr.DebugString())
}

// classify is classifyGError on plain strings. Most specific first.
func classify(msg, debug string) error {
	combined := strings.ToLower(msg + " " + debug)

	var sentinel error
	switch {
	case containsAny(combined, "permission denied", "not permitted", "eacces"):
		sentinel = types.ErrPermissionDenied
	case containsAny(combined, "device or resource busy", "ebusy", "busy", "too many open"):
		sentinel = types.ErrDeviceInUse
	case containsAny(combined, "no such file", "no such device", "cannot identify device", "not a capture device", "could not open device"):
		sentinel = types.ErrDeviceUnavailable
	case containsAny(combined, "not-negotiated", "not negotiated", "negotiation", "caps", "format", "unsupported"):
		sentinel = types.ErrConfigurationFailed
	default:
		sentinel = types.ErrDisconnected
	}
	return fmt.Errorf("gstdevice: %s: %w", msg, sentinel)
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
