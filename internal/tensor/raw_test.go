package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestNewRawRejectsUnresolvedShape(t *testing.T) {
	_, err := NewRaw(Shape{UnknownDim, 3}, Float32)
	require.Error(t, err)
}

func TestNewRawScalar(t *testing.T) {
	raw, err := NewRaw(Shape{}, Float32)
	require.NoError(t, err)
	assert.Equal(t, 1, raw.NumElements())
	assert.Equal(t, 4, raw.ByteSize())
	assert.Len(t, raw.AsFloat32(), 1)
}

func TestNewRawEmpty(t *testing.T) {
	raw, err := NewRaw(Shape{0, 3}, Float32)
	require.NoError(t, err)
	assert.Empty(t, raw.AsFloat32())
}

func TestRawTensorAsInt64(t *testing.T) {
	raw, err := NewRaw(Shape{3, 2}, Int64)
	require.NoError(t, err)
	data := raw.AsInt64()

	if len(data) != 6 {
		t.Errorf("AsInt64 length = %d, want 6", len(data))
	}

	// Modify and verify zero-copy
	data[0] = 42
	if raw.AsInt64()[0] != 42 {
		t.Error("AsInt64 should return zero-copy slice")
	}
}

func TestRawTensorAsBool(t *testing.T) {
	raw, err := NewRaw(Shape{2, 2}, Bool)
	require.NoError(t, err)
	data := raw.AsBool()
	data[0] = true
	assert.True(t, raw.AsBool()[0])
}

func TestRawTensorWrongViewPanics(t *testing.T) {
	raw, err := NewRaw(Shape{2}, Int32)
	require.NoError(t, err)
	assert.Panics(t, func() { raw.AsFloat32() })
}

func TestFromSlice(t *testing.T) {
	raw, err := FromSlice([]float32{-3, -2, -1, 0, 1, 2}, Shape{2, 3})
	require.NoError(t, err)
	assert.Equal(t, Float32, raw.DType())
	assert.Equal(t, []float32{-3, -2, -1, 0, 1, 2}, raw.AsFloat32())

	_, err = FromSlice([]float32{1, 2}, Shape{2, 3})
	require.Error(t, err)
}

func TestFromBytesLengthMismatch(t *testing.T) {
	_, err := FromBytes(Shape{2}, Int32, []byte{1, 0, 0, 0})
	require.Error(t, err)

	raw, err := FromBytes(Shape{2}, Int32, []byte{1, 0, 0, 0, 6, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 6}, raw.AsInt32())
}

func TestFloat64sRoundTrip(t *testing.T) {
	values := []float64{-3, -2, -1, 0, 1, 2}
	for _, dt := range []DataType{Float32, Float16, Float64, Int32, Int64, Int8} {
		t.Run(dt.String(), func(t *testing.T) {
			raw, err := NewRaw(Shape{2, 3}, dt)
			require.NoError(t, err)
			require.NoError(t, raw.SetFloat64s(values))
			assert.Equal(t, values, raw.Float64s())
		})
	}
}

func TestSetFloat64sCountMismatch(t *testing.T) {
	raw, err := NewRaw(Shape{2}, Float32)
	require.NoError(t, err)
	require.Error(t, raw.SetFloat64s([]float64{1, 2, 3}))
}

func TestFloat16View(t *testing.T) {
	raw, err := NewRaw(Shape{2}, Float16)
	require.NoError(t, err)
	raw.AsFloat16()[1] = float16.Fromfloat32(1.5)
	assert.Equal(t, []float64{0, 1.5}, raw.Float64s())
}

func TestInts(t *testing.T) {
	raw, err := FromSlice([]int32{1, 6}, Shape{2})
	require.NoError(t, err)
	got, err := raw.Ints()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 6}, got)

	f, err := NewRaw(Shape{2}, Float32)
	require.NoError(t, err)
	_, err = f.Ints()
	require.Error(t, err)
}

func TestNewRawRejectsOversizedShapes(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		dtype DataType
	}{
		{"element count overflows", Shape{1 << 20, 1 << 20, 1 << 20, 1 << 20}, Uint8},
		{"model constant", Shape{1 << 20, 1 << 20, 1 << 20}, Int32},
		{"declared input", Shape{100000000, 100000000}, Float32},
		{"just over the cap", Shape{MaxTensorBytes/4 + 1}, Float32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRaw(tt.shape, tt.dtype)
			require.ErrorIs(t, err, ErrTooLarge)

			_, err = FromBytes(tt.shape, tt.dtype, make([]byte, 8))
			require.ErrorIs(t, err, ErrTooLarge)
		})
	}
}
