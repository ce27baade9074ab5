package capture

import (
	"github.com/e7canasta/framebridge/internal/types"
	"github.com/gogpu/gputypes"
)

// Variant holds what differs between the two capture backends. Everything
// else (state machine, queue, routing) is shared.
type Variant struct {
	Backend       types.Backend
	Format        gputypes.TextureFormat
	Usage         gputypes.TextureUsage
	DefaultPolicy types.QueuePolicy
	// PerCaptureRotation takes rotation from each capture instead of the
	// camera's sensor orientation.
	PerCaptureRotation bool
}

// VariantFor returns the fixed variant of a backend.
func VariantFor(b types.Backend) Variant {
	if b == types.BackendDirect {
		return Variant{
			Backend:       types.BackendDirect,
			Format:        gputypes.TextureFormatBGRA8Unorm,
			Usage:         gputypes.TextureUsageTextureBinding,
			DefaultPolicy: types.PolicyBlockProducer,
		}
	}
	return Variant{
		Backend:            types.BackendManaged,
		Format:             gputypes.TextureFormatRGBA8Unorm,
		Usage:              gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopySrc,
		DefaultPolicy:      types.PolicyKeepLatest,
		PerCaptureRotation: true,
	}
}

// Policy resolves PolicyDefault to the variant default.
func (v Variant) Policy(p types.QueuePolicy) types.QueuePolicy {
	if p == types.PolicyDefault {
		return v.DefaultPolicy
	}
	return p
}

// Rotation returns the rotation to attach to a captured frame.
func (v Variant) Rotation(cam CameraInfo, info CaptureInfo) types.Rotation {
	if v.PerCaptureRotation {
		return info.Rotation
	}
	return cam.SensorOrientation
}
