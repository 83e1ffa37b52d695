package volumeio

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmreg/internal/models"
)

func testVolume() *models.Volume {
	v := models.NewVolume([3]int{4, 3, 2})
	v.Spacing = [3]float64{0.8, 1.2, 2.5}
	v.Origin = [3]float64{-12.5, 30, 4}
	// 90 degree rotation about z
	v.Direction = [9]float64{0, -1, 0, 1, 0, 0, 0, 0, 1}
	for i := range v.Data {
		v.Data[i] = float32(i)*0.5 - 3
	}
	return v
}

func assertSameVolume(t *testing.T, want, got *models.Volume) {
	t.Helper()
	require.Equal(t, want.Size, got.Size)
	for d := 0; d < 3; d++ {
		assert.InDelta(t, want.Spacing[d], got.Spacing[d], 1e-5, "spacing %d", d)
		assert.InDelta(t, want.Origin[d], got.Origin[d], 1e-5, "origin %d", d)
	}
	for i := range want.Direction {
		assert.InDelta(t, want.Direction[i], got.Direction[i], 1e-5, "direction %d", i)
	}
	assert.Equal(t, want.Data, got.Data)
}

func TestNIfTIRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"plain.nii", "compressed.nii.gz", "nested/dir/out.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			want := testVolume()
			require.NoError(t, Write(path, want))

			got, err := Read(path)
			require.NoError(t, err)
			assertSameVolume(t, want, got)
		})
	}
}

func TestNIfTIQformOnly(t *testing.T) {
	want := testVolume()
	hdr := newNIfTIHeader(want.Grid)
	hdr.SformCode = 0

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &hdr))
	buf.Write(make([]byte, 4))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, want.Data))

	got, err := decodeNIfTI(&buf)
	require.NoError(t, err)
	assertSameVolume(t, want, got)
}

func TestNIfTIBigEndianScaledInt16(t *testing.T) {
	g := models.NewGrid([3]int{2, 2, 1})
	hdr := newNIfTIHeader(g)
	hdr.Datatype = dtInt16
	hdr.Bitpix = 16
	hdr.SclSlope = 2
	hdr.SclInter = 1

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, &hdr))
	buf.Write(make([]byte, 4))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []int16{-2, 0, 3, 100}))

	v, err := decodeNIfTI(&buf)
	require.NoError(t, err)
	assert.Equal(t, []float32{-3, 1, 7, 201}, v.Data)
	assert.Equal(t, [3]int{2, 2, 1}, v.Size)
}

func TestNIfTIRejectsGarbage(t *testing.T) {
	_, err := decodeNIfTI(bytes.NewReader(make([]byte, 400)))
	assert.ErrorIs(t, err, ErrMalformedHeader)

	_, err = decodeNIfTI(bytes.NewReader([]byte{1, 2}))
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestNIfTIRejectsTimeSeries(t *testing.T) {
	hdr := newNIfTIHeader(models.NewGrid([3]int{2, 2, 2}))
	hdr.Dim[0] = 4
	hdr.Dim[4] = 3

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &hdr))
	_, err := decodeNIfTI(&buf)
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestNumPyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.npy")
	want := models.NewVolume([3]int{5, 4, 3})
	for i := range want.Data {
		want.Data[i] = float32(i) / 7
	}
	require.NoError(t, Write(path, want))

	got, err := Read(path)
	require.NoError(t, err)
	assertSameVolume(t, want, got)
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := Read("volume.mha")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	err = Write(filepath.Join(t.TempDir(), "volume.mha"), testVolume())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatNIfTIGzip, FormatOf("data/B006_PLAN_CT.nii.gz"))
	assert.Equal(t, FormatNIfTI, FormatOf("/tmp/X.NII"))
	assert.Equal(t, FormatNumPy, FormatOf("a.npy"))
	assert.Equal(t, FormatUnknown, FormatOf("a.png"))
}

func TestSizeString(t *testing.T) {
	assert.Equal(t, "(4, 3, 2)", SizeString(testVolume()))
}
