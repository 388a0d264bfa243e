package persist

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Compression selects how snapshot payloads are compressed on disk.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression accepts "", "none", "zstd" and "lz4". Empty means zstd.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "":
		return CompressionZstd, nil
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// Deterministic encoding keeps the checksum stable for identical snapshots.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("persist: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("persist: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("persist: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("persist: zstd decoder initialization failed: " + err.Error())
	}
}

type checksum [32]byte

func sum(data []byte) checksum {
	var c checksum
	h := blake3.Sum256(data)
	copy(c[:], h[:])
	return c
}

// encoded is a snapshot ready to be written.
type encoded struct {
	compression Compression
	size        int
	checksum    checksum
	payload     []byte
}

func encode(rec snapshotRecord, c Compression) (encoded, error) {
	raw, err := encMode.Marshal(rec)
	if err != nil {
		return encoded{}, fmt.Errorf("encode snapshot: %w", err)
	}
	payload, used, err := compress(raw, c)
	if err != nil {
		return encoded{}, err
	}
	return encoded{compression: used, size: len(raw), checksum: sum(raw), payload: payload}, nil
}

func decode(e encoded) (snapshotRecord, error) {
	raw, err := decompress(e.payload, e.compression, e.size)
	if err != nil {
		return snapshotRecord{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if got := sum(raw); !bytes.Equal(got[:], e.checksum[:]) {
		return snapshotRecord{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	var rec snapshotRecord
	if err := decMode.Unmarshal(raw, &rec); err != nil {
		return snapshotRecord{}, fmt.Errorf("%w: decode snapshot: %w", ErrCorrupt, err)
	}
	if rec.Version != recordVersion {
		return snapshotRecord{}, fmt.Errorf("%w: unsupported snapshot version %d", ErrCorrupt, rec.Version)
	}
	return rec, nil
}

var errSizeMismatch = errors.New("payload does not match recorded size")

// compress returns the payload and the compression actually applied, which
// is none when lz4 finds the input incompressible.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), CompressionZstd, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, "", fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			return data, CompressionNone, nil
		}
		return dst[:n], CompressionLZ4, nil
	default:
		return nil, "", fmt.Errorf("unsupported compression %q", c)
	}
}

func decompress(data []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, errSizeMismatch
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}
