package capture

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(w, h int, r, g, b byte) Frame {
	rgb := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		rgb[i*3], rgb[i*3+1], rgb[i*3+2] = r, g, b
	}
	return Frame{RGB: rgb, Width: w, Height: h}
}

func TestEncodeJPEGDownscales(t *testing.T) {
	t.Parallel()

	data, err := EncodeJPEG(solidFrame(1280, 800, 20, 40, 60), 640, 80)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 400, cfg.Height)
}

func TestEncodeJPEGNoUpscale(t *testing.T) {
	t.Parallel()

	data, err := EncodeJPEG(solidFrame(100, 60, 0, 0, 0), 640, 80)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 60, cfg.Height)
}

func TestEncodeJPEGTallFrame(t *testing.T) {
	t.Parallel()

	data, err := EncodeJPEG(solidFrame(200, 1000, 0, 0, 0), 500, 80)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 500, cfg.Height)
}

func TestEncodeJPEGRejectsInvalidFrame(t *testing.T) {
	t.Parallel()

	_, err := EncodeJPEG(Frame{RGB: []byte{1, 2, 3}, Width: 10, Height: 10}, 0, 80)
	assert.Error(t, err)
}

func TestDiffGateFirstFramePasses(t *testing.T) {
	t.Parallel()

	gate := NewDiffGate(0.01, 0)
	changed, ratio := gate.Changed(solidFrame(64, 64, 0, 0, 0))
	assert.True(t, changed)
	assert.Equal(t, 1.0, ratio)
}

func TestDiffGateIdenticalFrameBlocked(t *testing.T) {
	t.Parallel()

	gate := NewDiffGate(0.01, 0)
	f := solidFrame(64, 64, 100, 100, 100)
	gate.Changed(f)

	changed, ratio := gate.Changed(f)
	assert.False(t, changed)
	assert.Equal(t, 0.0, ratio)
}

func TestDiffGateLargeChangePasses(t *testing.T) {
	t.Parallel()

	gate := NewDiffGate(0.01, 0)
	gate.Changed(solidFrame(64, 64, 0, 0, 0))

	changed, ratio := gate.Changed(solidFrame(64, 64, 255, 255, 255))
	assert.True(t, changed)
	assert.Equal(t, 1.0, ratio)
}

func TestDiffGateSmallDeltaBelowPixelThreshold(t *testing.T) {
	t.Parallel()

	gate := NewDiffGate(0.01, 0)
	gate.Changed(solidFrame(64, 64, 100, 100, 100))

	// Per-pixel delta of 9 across three channels total, under the
	// minimum of 10.
	changed, ratio := gate.Changed(solidFrame(64, 64, 103, 103, 103))
	assert.False(t, changed)
	assert.Equal(t, 0.0, ratio)
}

func TestDiffGateShapeChangeForces(t *testing.T) {
	t.Parallel()

	gate := NewDiffGate(0.01, 0)
	gate.Changed(solidFrame(64, 64, 0, 0, 0))

	changed, ratio := gate.Changed(solidFrame(32, 32, 0, 0, 0))
	assert.True(t, changed)
	assert.Equal(t, 1.0, ratio)
}

func TestDiffGateReset(t *testing.T) {
	t.Parallel()

	gate := NewDiffGate(0.01, 0)
	f := solidFrame(64, 64, 50, 50, 50)
	gate.Changed(f)
	gate.Reset()

	changed, ratio := gate.Changed(f)
	assert.True(t, changed)
	assert.Equal(t, 1.0, ratio)
}

func TestDiffGateDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	gate := NewDiffGate(0.01, 0)
	f := solidFrame(64, 64, 7, 8, 9)
	orig := append([]byte(nil), f.RGB...)
	gate.Changed(f)
	gate.Changed(f)
	assert.Equal(t, orig, f.RGB)
}

func TestDiffGatePartialChangeRatio(t *testing.T) {
	t.Parallel()

	gate := NewDiffGate(0.05, 0)
	base := solidFrame(100, 100, 0, 0, 0)
	gate.Changed(base)

	// Flip the top 10 rows to white: ratio should be about 0.10.
	next := solidFrame(100, 100, 0, 0, 0)
	copy(next.RGB[:100*10*3], solidFrame(100, 10, 255, 255, 255).RGB)
	changed, ratio := gate.Changed(next)
	assert.True(t, changed)
	assert.InDelta(t, 0.10, ratio, 0.02)
}

func TestParseWindowID(t *testing.T) {
	t.Parallel()

	id, err := ParseWindowID("41943041")
	require.NoError(t, err)
	assert.Equal(t, uint32(41943041), id)

	id, err = ParseWindowID("0x2800001")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2800001), id)

	_, err = ParseWindowID("Firefox")
	assert.Error(t, err)
}

func TestWindowResolverNumericPassthrough(t *testing.T) {
	t.Parallel()

	r := &WindowResolver{run: func(context.Context, string, ...string) (string, error) {
		t.Fatal("lookup should not run for numeric ids")
		return "", nil
	}}
	id, err := r.Resolve(context.Background(), ":100", "12345")
	require.NoError(t, err)
	assert.Equal(t, uint32(12345), id)
}

func TestWindowResolverByName(t *testing.T) {
	t.Parallel()

	r := &WindowResolver{run: func(_ context.Context, display string, args ...string) (string, error) {
		assert.Equal(t, ":100", display)
		assert.Equal(t, []string{"search", "--onlyvisible", "--name", "Firefox"}, args)
		return "\n41943041\n41943042\n", nil
	}}
	id, err := r.Resolve(context.Background(), ":100", "Firefox")
	require.NoError(t, err)
	assert.Equal(t, uint32(41943041), id)
}

func TestWindowResolverNotFound(t *testing.T) {
	t.Parallel()

	r := &WindowResolver{run: func(context.Context, string, ...string) (string, error) {
		return "", errors.New("exit status 1")
	}}
	_, err := r.Resolve(context.Background(), ":100", "NoSuchWindow")
	assert.Error(t, err)
}
