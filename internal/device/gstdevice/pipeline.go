package gstdevice

import (
	"fmt"

	"github.com/e7canasta/framebridge/internal/logging"
	"github.com/gogpu/gputypes"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// pipelineConfig contains configuration for the capture pipeline.
type pipelineConfig struct {
	DevicePath string
	Width      int
	Height     int
	Format     gputypes.TextureFormat
	FPS        int
}

// pipelineElements holds the elements needed after creation.
type pipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
}

// createPipeline builds, but does not start, the capture pipeline:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter → appsink
//
// The capsfilter locks the output to the session's pixel format and size so
// every sample maps one-to-one onto a buffer slab.
func createPipeline(cfg pipelineConfig) (*pipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", cfg.DevicePath)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := buildCaps(cfg)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add pipeline elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	logging.Logger().Debug("gstdevice: pipeline created",
		"device", cfg.DevicePath,
		"caps", capsStr,
	)

	return &pipelineElements{Pipeline: pipeline, AppSink: appsink}, nil
}

// destroyPipeline sets the pipeline to NULL. Safe on nil.
func destroyPipeline(elements *pipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// buildCaps returns "video/x-raw,format=F,width=W,height=H[,framerate=N/1]".
func buildCaps(cfg pipelineConfig) string {
	format := "RGBA"
	if cfg.Format == gputypes.TextureFormatBGRA8Unorm {
		format = "BGRA"
	}
	caps := fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", format, cfg.Width, cfg.Height)
	if cfg.FPS > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", cfg.FPS)
	}
	return caps
}
