package cache

import (
	"sync"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack"
)

// format markers, the first byte of every entry file
const (
	formatMsgpack     byte = 0x01
	formatMsgpackZstd byte = 0x02
)

type codec struct {
	compress  bool
	threshold int

	encoderPool sync.Pool
	decoderPool sync.Pool
}

func newCodec(compress bool, threshold int) *codec {
	c := &codec{
		compress:  compress,
		threshold: threshold,
	}

	c.encoderPool = sync.Pool{
		New: func() interface{} {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}

	c.decoderPool = sync.Pool{
		New: func() interface{} {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}

	return c
}

func (c *codec) encode(value interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(value)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("failed to serialize cache value of type %T", value, err)
	}

	if !c.compress || len(b) < c.threshold {
		return append([]byte{formatMsgpack}, b...), nil
	}

	enc := c.encoderPool.Get().(*zstd.Encoder)
	defer c.encoderPool.Put(enc)

	return enc.EncodeAll(b, []byte{formatMsgpackZstd}), nil
}

func (c *codec) decode(data []byte, dest interface{}) error {
	if len(data) == 0 {
		return errors.NewCorruptedCacheEntryError("empty cache entry")
	}

	payload := data[1:]

	switch data[0] {
	case formatMsgpack:
	case formatMsgpackZstd:
		dec := c.decoderPool.Get().(*zstd.Decoder)
		defer c.decoderPool.Put(dec)

		b, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return errors.NewCorruptedCacheEntryError("failed to decompress cache entry", err)
		}

		payload = b
	default:
		return errors.NewCorruptedCacheEntryError("unknown cache entry format 0x%02x", data[0])
	}

	if err := msgpack.Unmarshal(payload, dest); err != nil {
		return errors.NewCorruptedCacheEntryError("failed to deserialize cache entry", err)
	}

	return nil
}
