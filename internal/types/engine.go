package types

import "fmt"

// EngineKind is the rendering backend of an engine handle.
type EngineKind int

const (
	// KindRaster samples the buffer on the delivering goroutine.
	KindRaster EngineKind = iota
	// KindTexture retains the buffer and uploads it on its render goroutine.
	KindTexture
)

func (k EngineKind) String() string {
	switch k {
	case KindRaster:
		return "raster"
	case KindTexture:
		return "texture"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Mode returns the delivery mode fixed for the kind.
func (k EngineKind) Mode() DeliveryMode {
	if k == KindTexture {
		return ModeAsyncRetain
	}
	return ModeSyncCopy
}

// ParseEngineKind accepts "raster" or "texture".
func ParseEngineKind(s string) (EngineKind, error) {
	switch s {
	case "raster":
		return KindRaster, nil
	case "texture":
		return KindTexture, nil
	default:
		return 0, fmt.Errorf("unknown engine kind %q (want raster or texture)", s)
	}
}

// DeliveryMode says when a consumer is done with a delivered buffer.
type DeliveryMode int

const (
	// ModeSyncCopy: the consumer is done when DeliverFrame returns.
	ModeSyncCopy DeliveryMode = iota
	// ModeAsyncRetain: the consumer retains the buffer during DeliverFrame
	// and releases it from its own goroutine later.
	ModeAsyncRetain
)

func (m DeliveryMode) String() string {
	switch m {
	case ModeSyncCopy:
		return "sync-copy"
	case ModeAsyncRetain:
		return "async-retain"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// QueuePolicy resolves producer/consumer rate mismatch in a session queue.
type QueuePolicy int

const (
	// PolicyDefault defers to the backend variant.
	PolicyDefault QueuePolicy = iota
	// PolicyBlockProducer stalls capture until a queue slot is free.
	PolicyBlockProducer
	// PolicyKeepLatest discards the oldest queued frame.
	PolicyKeepLatest
)

func (p QueuePolicy) String() string {
	switch p {
	case PolicyDefault:
		return "default"
	case PolicyBlockProducer:
		return "block-producer"
	case PolicyKeepLatest:
		return "keep-latest"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseQueuePolicy accepts "", "default", "block-producer" or "keep-latest".
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch s {
	case "", "default":
		return PolicyDefault, nil
	case "block-producer":
		return PolicyBlockProducer, nil
	case "keep-latest":
		return PolicyKeepLatest, nil
	default:
		return 0, fmt.Errorf("unknown queue policy %q", s)
	}
}
