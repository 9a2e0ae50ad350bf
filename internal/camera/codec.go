package camera

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"crosswatch/internal/types"
)

// zstdMagic is the four-byte frame header every zstd stream starts with.
// Edge publishers compress large payloads (frames attached) and leave small
// ones plain, so the consumer sniffs rather than trusting topic config.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// maxDecodedPayload caps how far a compressed message may expand. An
// analytics payload with an attached frame stays well under this.
const maxDecodedPayload = 8 << 20

// payloadDecoder holds pooled zstd decoders for the consumer goroutines.
type payloadDecoder struct {
	pool sync.Pool
}

func newPayloadDecoder() *payloadDecoder {
	return &payloadDecoder{
		pool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil,
					zstd.WithDecoderConcurrency(1),
					zstd.WithDecoderMaxMemory(maxDecodedPayload))
				if err != nil {
					// Cannot happen with nil input and static options.
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

// decode returns the plain payload bytes, decompressing zstd-framed messages.
func (p *payloadDecoder) decode(raw []byte) ([]byte, error) {
	if !bytes.HasPrefix(raw, zstdMagic) {
		return raw, nil
	}

	decoder := p.pool.Get().(*zstd.Decoder)
	defer p.pool.Put(decoder)

	out, err := decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}

// decodeAnalyticsMessage turns a raw Kafka payload into a directional reading
// and optional frame for the given approach. Any structural defect makes the
// whole message malformed; nothing from a rejected message reaches the view.
func decodeAnalyticsMessage(dec *payloadDecoder, d types.Direction, raw []byte) (types.DirectionalReading, []byte, error) {
	var zero types.DirectionalReading

	payload, err := dec.decode(raw)
	if err != nil {
		return zero, nil, types.NewAppError(types.ErrCodeInternalCameraMalformed,
			"failed to decompress camera message", err)
	}

	var msg types.CameraAnalyticsMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return zero, nil, types.NewAppError(types.ErrCodeInternalCameraMalformed,
			"failed to decode camera message", err)
	}

	if msg.CameraID == "" {
		return zero, nil, types.NewAppError(types.ErrCodeInternalCameraMalformed,
			"camera message missing camera_id", nil)
	}
	// Messages land on per-direction topics; a camera id naming a different
	// approach means a misrouted publisher, not a reading for this one.
	if !strings.Contains(strings.ToLower(msg.CameraID), string(d)) {
		return zero, nil, types.NewAppError(types.ErrCodeInternalCameraMalformed,
			fmt.Sprintf("camera id %q does not match the %s topic", msg.CameraID, d), nil)
	}
	if msg.Timestamp.IsZero() {
		return zero, nil, types.NewAppError(types.ErrCodeInternalCameraMalformed,
			"camera message missing timestamp", nil)
	}
	if msg.VehicleCount < 0 || msg.PedestrianCount < 0 {
		return zero, nil, types.NewAppError(types.ErrCodeInternalCameraMalformed,
			fmt.Sprintf("camera message carries negative counts (vehicles=%d, pedestrians=%d)",
				msg.VehicleCount, msg.PedestrianCount), nil)
	}

	var frame []byte
	if msg.FrameJPEGB64 != "" {
		frame, err = base64.StdEncoding.DecodeString(msg.FrameJPEGB64)
		if err != nil {
			return zero, nil, types.NewAppError(types.ErrCodeInternalCameraMalformed,
				"camera message frame is not valid base64", err)
		}
	}

	return msg.Reading(d), frame, nil
}
