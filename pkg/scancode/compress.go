package scancode

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressionTag identifies the compression applied to a payload body. The
// tag is the byte after the magic, a protocol constant; changing values
// breaks payload compatibility.
type compressionTag uint8

const (
	// compressionNone indicates an uncompressed CBOR body. Used when zstd
	// does not shrink the body (small payloads mostly are incompressible).
	compressionNone compressionTag = 0

	// compressionZstd indicates a zstd-compressed body. Long journeys with
	// repetitive actor and location text compress well.
	compressionZstd compressionTag = 1
)

// maxBodyBytes caps the decompressed body size. Payloads are at most a few
// kilobytes by construction, so anything expanding past this is hostile.
const maxBodyBytes = 1 << 20

// zstdEncoder and zstdDecoder are reused across calls; both are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("scancode: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBodyBytes))
	if err != nil {
		panic("scancode: zstd decoder initialization failed: " + err.Error())
	}
}

// compressBody compresses the body with zstd when that actually wins,
// otherwise returns the body unchanged with the none tag.
func compressBody(body []byte) ([]byte, compressionTag) {
	compressed := zstdEncoder.EncodeAll(body, nil)
	if len(compressed) >= len(body) {
		return body, compressionNone
	}
	return compressed, compressionZstd
}

// decompressBody reverses compressBody according to the frame tag.
func decompressBody(body []byte, tag compressionTag) ([]byte, error) {
	switch tag {
	case compressionNone:
		return body, nil
	case compressionZstd:
		decompressed, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, unparseable(fmt.Sprintf("zstd decompress: %v", err))
		}
		if len(decompressed) > maxBodyBytes {
			return nil, unparseable("decompressed body exceeds size cap")
		}
		return decompressed, nil
	default:
		return nil, unparseable(fmt.Sprintf("unknown compression tag %d", tag))
	}
}
