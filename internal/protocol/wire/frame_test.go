package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	codec := NewCodec(64)

	t.Run("PrefixesPayloadLength", func(t *testing.T) {
		frame, err := codec.EncodeFrame([]byte("hello"))
		require.NoError(t, err)

		require.Len(t, frame, HeaderSize+5)
		assert.Equal(t, uint32(5), binary.BigEndian.Uint32(frame[:HeaderSize]))
		assert.Equal(t, []byte("hello"), frame[HeaderSize:])
	})

	t.Run("RejectsEmptyPayload", func(t *testing.T) {
		_, err := codec.EncodeFrame(nil)
		var encErr *EncodeError
		require.ErrorAs(t, err, &encErr)

		_, err = codec.EncodeFrame([]byte{})
		require.ErrorAs(t, err, &encErr)
	})

	t.Run("RejectsOversizedPayload", func(t *testing.T) {
		_, err := codec.EncodeFrame(make([]byte, 65))
		var encErr *EncodeError
		require.ErrorAs(t, err, &encErr)
	})
}

func TestDecodeFrame(t *testing.T) {
	codec := NewCodec(64)

	t.Run("RoundTrip", func(t *testing.T) {
		payloads := [][]byte{
			[]byte("a"),
			[]byte(`{"op":"ping"}`),
			bytes.Repeat([]byte{0xff}, 64),
			{0x00}, // single NUL byte is a valid payload
		}

		for _, payload := range payloads {
			frame, err := codec.EncodeFrame(payload)
			require.NoError(t, err)

			decoded, consumed, err := codec.DecodeFrame(frame)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
			assert.Equal(t, len(frame), consumed)
		}
	})

	t.Run("NeedMoreDataOnShortHeader", func(t *testing.T) {
		_, _, err := codec.DecodeFrame([]byte{0x00, 0x00})
		assert.ErrorIs(t, err, ErrNeedMoreData)
	})

	t.Run("NeedMoreDataOnShortPayload", func(t *testing.T) {
		frame, err := codec.EncodeFrame([]byte("truncated!"))
		require.NoError(t, err)

		// Declared length 10, only 4 payload bytes available.
		_, _, err = codec.DecodeFrame(frame[:HeaderSize+4])
		assert.ErrorIs(t, err, ErrNeedMoreData)
	})

	t.Run("RejectsZeroLength", func(t *testing.T) {
		frame := make([]byte, HeaderSize)
		_, _, err := codec.DecodeFrame(frame)
		var decErr *DecodeError
		require.ErrorAs(t, err, &decErr)
	})

	t.Run("RejectsDeclaredLengthAboveMaximum", func(t *testing.T) {
		frame := make([]byte, HeaderSize)
		binary.BigEndian.PutUint32(frame, 65)

		_, _, err := codec.DecodeFrame(frame)
		var decErr *DecodeError
		require.ErrorAs(t, err, &decErr)
		assert.True(t, IsDecodeError(err))

		// Distinct from the need-more-data signal.
		assert.NotErrorIs(t, err, ErrNeedMoreData)
	})

	t.Run("ConsumesOnlyFirstFrame", func(t *testing.T) {
		first, err := codec.EncodeFrame([]byte("one"))
		require.NoError(t, err)
		second, err := codec.EncodeFrame([]byte("two"))
		require.NoError(t, err)

		buf := append(append([]byte{}, first...), second...)
		payload, consumed, err := codec.DecodeFrame(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), payload)
		assert.Equal(t, len(first), consumed)
	})
}

func TestReadFrame(t *testing.T) {
	codec := NewCodec(64)

	t.Run("ReadsStreamedFrame", func(t *testing.T) {
		frame, err := codec.EncodeFrame([]byte("stream me"))
		require.NoError(t, err)

		payload, err := codec.ReadFrame(bytes.NewReader(frame))
		require.NoError(t, err)
		assert.Equal(t, []byte("stream me"), payload)
	})

	t.Run("PassesThroughEOF", func(t *testing.T) {
		_, err := codec.ReadFrame(bytes.NewReader(nil))
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("RejectsOversizedHeaderBeforeReadingBody", func(t *testing.T) {
		var header [HeaderSize]byte
		binary.BigEndian.PutUint32(header[:], 1<<30)

		_, err := codec.ReadFrame(bytes.NewReader(header[:]))
		var decErr *DecodeError
		require.ErrorAs(t, err, &decErr)
	})
}

func TestWriteFrame(t *testing.T) {
	codec := NewCodec(64)

	t.Run("WritesDecodableFrame", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, codec.WriteFrame(&buf, []byte("pong")))

		payload, err := codec.ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, []byte("pong"), payload)
	})

	t.Run("RejectsEmptyPayloadWithoutWriting", func(t *testing.T) {
		var buf bytes.Buffer
		err := codec.WriteFrame(&buf, nil)
		var encErr *EncodeError
		require.ErrorAs(t, err, &encErr)
		assert.Zero(t, buf.Len())
	})
}

func TestPayloadLengthCheckDoesNotWrap(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("requires 64-bit int lengths")
	}

	codec := NewCodec(64)
	var encErr *EncodeError

	// Lengths at and past 1<<32 would truncate to 0 and 5 under a uint32
	// comparison and slip inside the bound.
	shift := uint(32)
	wrapToZero := int(uint64(1) << shift)
	wrapToSmall := wrapToZero + 5

	require.ErrorAs(t, codec.validatePayloadLength(wrapToZero), &encErr)
	require.ErrorAs(t, codec.validatePayloadLength(wrapToSmall), &encErr)

	assert.NoError(t, codec.validatePayloadLength(64))
	require.ErrorAs(t, codec.validatePayloadLength(65), &encErr)
}
