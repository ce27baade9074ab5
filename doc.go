// Package framebridge bridges camera capture sessions to render engines by
// handing hardware-backed buffers from producers to consumers without
// copying them.
//
// # Architecture
//
//	Driver → Session (producer → queue → delivery) → Router → Engine(s)
//	                                                  ↑
//	                                  Orchestrator (one controller goroutine)
//
// A Session owns one camera for one (facing, backend) pair. Its producer
// goroutine fills buffers from a fixed pool and its delivery goroutine fans
// each frame out to the subscribed engines in capture order. The producer's
// reference on a buffer is released once every subscriber returned; async
// engines keep their own reference until their render goroutine uploaded it.
//
// Two backend variants exist:
//
//   - Managed: RGBA frames, keep-latest queue, rotation reported per capture.
//   - Direct: BGRA frames, block-producer queue, rotation from the sensor.
//
// Two engine kinds exist:
//
//   - Raster: copies the frame on the delivery goroutine (sync-copy).
//   - Texture: retains the frame and uploads it later (async-retain).
//
// The Orchestrator moves engines between sessions. An engine is detached from
// its old session, with any in-flight delivery finished, before it is attached
// to the new one, so no engine is ever fed by two sessions.
//
// # Basic Usage
//
//	manager := framebridge.NewManager(framebridge.NewSyntheticDriver(framebridge.SyntheticConfig{}), framebridge.Options{})
//	orch := framebridge.NewOrchestrator(manager)
//	defer manager.Close()
//	defer orch.Close()
//
//	id, _ := orch.AddEngine(ctx, framebridge.KindRaster)
//	_ = orch.SurfaceCreated(ctx, id, surface.NewImageSurface(1280, 720), 1280, 720)
//	_ = orch.Feed(ctx, id, framebridge.FacingBack, framebridge.BackendManaged)
//	_ = orch.ToggleFacing(ctx, id)
//
// # Errors
//
// Failures are reported with the sentinel errors below, wrapped with context.
// Use errors.Is to test for them and Classify to group them.
//
// # Logging
//
// Library code is silent until SetLogger installs a *slog.Logger.
package framebridge
