package stm8boot

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadImage(t *testing.T) {
	tgt := newFakeTarget(0x10)
	var progress []Progress
	s := connect(t, tgt, WithProgressCallback(func(p Progress) { progress = append(progress, p) }))

	var buf bytes.Buffer
	require.NoError(t, s.ReadImage(context.Background(), &buf))

	size := s.Device().FlashSize()
	assert.Equal(t, size, buf.Len())
	assert.Equal(t, tgt.memory(0x8000, size), buf.Bytes())
	assert.Len(t, tgt.reads, (size+ReadMaxCount-1)/ReadMaxCount)
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, PhaseReading, last.Phase)
	assert.Equal(t, size, last.Done)
	assert.Equal(t, 100.0, last.Percentage())
}

func TestReadImageFailureIsNotRetried(t *testing.T) {
	tgt := newFakeTarget(0x10)
	tgt.nackRead[0x8100] = true
	s := connect(t, tgt)

	var buf bytes.Buffer
	err := s.ReadImage(context.Background(), &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x00008100")
	assert.Contains(t, err.Error(), "read-protected")
	assert.Equal(t, []uint32{0x8000}, tgt.reads)
	assert.Equal(t, 1, tgt.badFrames)
	assert.Equal(t, ReadMaxCount, buf.Len())
}

func TestReadRangeCancelled(t *testing.T) {
	tgt := newFakeTarget(0x20)
	s := connect(t, tgt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.ReadRange(ctx, 0x8000, 0x9000, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tgt.reads)
}

func TestWriteImage(t *testing.T) {
	tgt := newFakeTarget(0x20)
	s := connect(t, tgt, WithVerify(true))
	tgt.writes = nil

	image := pattern(1000, 1)
	require.NoError(t, s.WriteImage(context.Background(), image))
	assert.Equal(t, 1, tgt.eraseAll)
	assert.Equal(t, image, tgt.memory(0x8000, len(image)))
	// untouched flash reads back erased
	assert.Equal(t, make([]byte, 24), tgt.memory(0x8000+1000, 24))
	assert.Len(t, tgt.writes, 8)
	assert.Len(t, tgt.reads, 8)
	assert.Zero(t, tgt.badEchoes)
	assert.Zero(t, tgt.badFrames)
}

func TestWriteImageWithoutVerify(t *testing.T) {
	tgt := newFakeTarget(0x20)
	s := connect(t, tgt)

	require.NoError(t, s.WriteImage(context.Background(), pattern(300, 2)))
	assert.Empty(t, tgt.reads)
}

func TestWriteImageErasePages(t *testing.T) {
	tgt := newFakeTarget(0x20)
	s := connect(t, tgt, WithErasePages(1))

	require.NoError(t, s.WriteImage(context.Background(), pattern(700, 2)))
	assert.Zero(t, tgt.eraseAll)
	assert.Equal(t, []byte{0, 1}, tgt.erasePages)
}

func TestWriteImageRetriesDoNotCarryOver(t *testing.T) {
	tgt := newFakeTarget(0x20)
	s := connect(t, tgt, WithVerify(true), WithRetries(3))
	tgt.writes = nil
	// each chunk fails twice, three in total would abort if counted
	// across chunks
	tgt.corrupt[0x8080] = 2
	tgt.corrupt[0x8100] = 2

	image := pattern(512, 5)
	require.NoError(t, s.WriteImage(context.Background(), image))
	assert.Equal(t, image, tgt.memory(0x8000, len(image)))

	count := map[uint32]int{}
	for _, a := range tgt.writes {
		count[a]++
	}
	assert.Equal(t, map[uint32]int{0x8000: 1, 0x8080: 3, 0x8100: 3, 0x8180: 1}, count)
}

func TestWriteImageVerifyMismatch(t *testing.T) {
	tgt := newFakeTarget(0x20)
	s := connect(t, tgt, WithVerify(true), WithRetries(3))
	tgt.writes = nil
	tgt.corrupt[0x8080] = 3

	image := pattern(512, 5)
	err := s.WriteImage(context.Background(), image)

	var verr *VerifyMismatchError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, uint32(0x8080), verr.Address)
	assert.Equal(t, image[128], verr.Expected)
	assert.Equal(t, image[128]^0xFF, verr.Actual)

	// nothing past the failing chunk
	assert.Equal(t, []uint32{0x8000, 0x8080, 0x8080, 0x8080}, tgt.writes)
	for _, a := range tgt.reads {
		assert.LessOrEqual(t, a, uint32(0x8080))
	}
}

func TestWriteImageFullCapacity(t *testing.T) {
	tgt := newFakeTarget(0x10)
	var last Progress
	s := connect(t, tgt, WithVerify(true), WithProgressCallback(func(p Progress) { last = p }))

	image := pattern(s.Device().FlashSize(), 3)
	require.NoError(t, s.WriteImage(context.Background(), image))
	assert.Equal(t, image, tgt.memory(0x8000, len(image)))
	assert.Equal(t, len(image), last.Done)
	assert.Equal(t, uint32(0xFFFF), last.Address)
	assert.True(t, last.Verified)
}

func TestWriteImageTooLarge(t *testing.T) {
	tgt := newFakeTarget(0x10)
	s := connect(t, tgt, WithVerify(true))
	before := tgt.bytesWritten()

	err := s.WriteImage(context.Background(), make([]byte, s.Device().FlashSize()+1))
	var serr *SizeExceededError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 0x7FFF, serr.Capacity)
	assert.Equal(t, 0x8000, serr.Size)
	assert.Equal(t, before, tgt.bytesWritten())
	assert.Zero(t, tgt.eraseAll)
}

func TestWriteImageSkipsZeroChunks(t *testing.T) {
	tgt := newFakeTarget(0x20)
	s := connect(t, tgt, WithVerify(true))
	tgt.writes = nil

	image := pattern(384, 7)
	for i := 128; i < 256; i++ {
		image[i] = 0
	}
	require.NoError(t, s.WriteImage(context.Background(), image))
	assert.Equal(t, []uint32{0x8000, 0x8100}, tgt.writes)
	assert.Equal(t, []uint32{0x8000, 0x8080, 0x8100}, tgt.reads)
	assert.Equal(t, image, tgt.memory(0x8000, len(image)))
}

func TestEnableBootloader(t *testing.T) {
	tgt := newFakeTarget(0x20)
	s := connect(t, tgt)

	require.NoError(t, s.EnableBootloader())
	assert.Equal(t, []byte{0x55, 0xAA}, tgt.memory(0x487E, 2))
}
