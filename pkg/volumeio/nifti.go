package volumeio

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"mmreg/internal/models"
)

const (
	niftiHeaderSize = 348
	niftiVoxOffset  = 352
)

// NIfTI-1 datatype codes
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
)

// niftiHeader mirrors the 348-byte NIfTI-1 header field by field
type niftiHeader struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

func readNIfTI(path string, gzipped bool) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if gzipped {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = bufio.NewReader(gz)
	}

	return decodeNIfTI(r)
}

// decodeNIfTI parses a single-file NIfTI-1 stream
func decodeNIfTI(r io.Reader) (*models.Volume, error) {
	raw := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if int32(binary.LittleEndian.Uint32(raw)) != niftiHeaderSize {
		if int32(binary.BigEndian.Uint32(raw)) != niftiHeaderSize {
			return nil, fmt.Errorf("%w: sizeof_hdr is not %d", ErrMalformedHeader, niftiHeaderSize)
		}
		order = binary.BigEndian
	}

	var hdr niftiHeader
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if hdr.Magic != [4]byte{'n', '+', '1', 0} {
		return nil, fmt.Errorf("%w: magic %q is not a single-file NIfTI-1", ErrUnsupportedFormat, hdr.Magic[:3])
	}

	size, err := hdr.size()
	if err != nil {
		return nil, err
	}

	offset := int64(hdr.VoxOffset)
	if offset < niftiHeaderSize {
		return nil, fmt.Errorf("%w: vox_offset %d", ErrMalformedHeader, offset)
	}
	if _, err := io.CopyN(io.Discard, r, offset-niftiHeaderSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	v := models.NewVolumeOnGrid(hdr.grid(size))
	if err := readVoxels(r, order, hdr.Datatype, v.Data); err != nil {
		return nil, err
	}

	// scl_slope == 0 means no scaling
	if hdr.SclSlope != 0 && !(hdr.SclSlope == 1 && hdr.SclInter == 0) {
		for i := range v.Data {
			v.Data[i] = v.Data[i]*hdr.SclSlope + hdr.SclInter
		}
	}

	return v, nil
}

func (h *niftiHeader) size() ([3]int, error) {
	ndim := int(h.Dim[0])
	if ndim < 1 || ndim > 7 {
		return [3]int{}, fmt.Errorf("%w: dim[0]=%d", ErrMalformedHeader, ndim)
	}

	size := [3]int{1, 1, 1}
	for d := 1; d <= ndim; d++ {
		n := int(h.Dim[d])
		if n < 1 {
			return [3]int{}, fmt.Errorf("%w: dim[%d]=%d", ErrMalformedHeader, d, n)
		}
		if d <= 3 {
			size[d-1] = n
		} else if n > 1 {
			return [3]int{}, fmt.Errorf("%w: only 3D scalar volumes are supported, dim=%v", ErrMalformedHeader, h.Dim)
		}
	}
	return size, nil
}

// grid derives LPS geometry from the RAS sform, the qform or pixdim alone
func (h *niftiHeader) grid(size [3]int) models.Grid {
	g := models.NewGrid(size)
	for d := 0; d < 3; d++ {
		if s := float64(h.Pixdim[d+1]); s > 0 {
			g.Spacing[d] = s
		}
	}

	var rot [9]float64
	switch {
	case h.SformCode > 0 && h.sformUsable():
		rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
		for c := 0; c < 3; c++ {
			norm := 0.0
			for r := 0; r < 3; r++ {
				norm += float64(rows[r][c]) * float64(rows[r][c])
			}
			norm = math.Sqrt(norm)
			g.Spacing[c] = norm
			for r := 0; r < 3; r++ {
				rot[r*3+c] = float64(rows[r][c]) / norm
			}
		}
		g.Origin = [3]float64{float64(rows[0][3]), float64(rows[1][3]), float64(rows[2][3])}
	case h.QformCode > 0:
		rot = quaternionToMatrix(float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD))
		if h.Pixdim[0] < 0 {
			for r := 0; r < 3; r++ {
				rot[r*3+2] = -rot[r*3+2]
			}
		}
		g.Origin = [3]float64{float64(h.QoffsetX), float64(h.QoffsetY), float64(h.QoffsetZ)}
	default:
		rot = models.IdentityDirection
	}

	// RAS -> LPS
	for c := 0; c < 3; c++ {
		rot[c] = -rot[c]
		rot[3+c] = -rot[3+c]
	}
	g.Origin[0], g.Origin[1] = -g.Origin[0], -g.Origin[1]
	g.Direction = rot
	return g
}

// sformUsable reports whether every sform column has a non-zero length
func (h *niftiHeader) sformUsable() bool {
	rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
	for c := 0; c < 3; c++ {
		if rows[0][c] == 0 && rows[1][c] == 0 && rows[2][c] == 0 {
			return false
		}
	}
	return true
}

func readVoxels(r io.Reader, order binary.ByteOrder, datatype int16, out []float32) error {
	n := len(out)
	convert := func(src interface{}, at func(i int) float32) error {
		if err := binary.Read(r, order, src); err != nil {
			return fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i := 0; i < n; i++ {
			out[i] = at(i)
		}
		return nil
	}

	switch datatype {
	case dtFloat32:
		if err := binary.Read(r, order, out); err != nil {
			return fmt.Errorf("failed to read voxel data: %w", err)
		}
		return nil
	case dtFloat64:
		buf := make([]float64, n)
		return convert(buf, func(i int) float32 { return float32(buf[i]) })
	case dtUint8:
		buf := make([]uint8, n)
		return convert(buf, func(i int) float32 { return float32(buf[i]) })
	case dtInt8:
		buf := make([]int8, n)
		return convert(buf, func(i int) float32 { return float32(buf[i]) })
	case dtInt16:
		buf := make([]int16, n)
		return convert(buf, func(i int) float32 { return float32(buf[i]) })
	case dtUint16:
		buf := make([]uint16, n)
		return convert(buf, func(i int) float32 { return float32(buf[i]) })
	case dtInt32:
		buf := make([]int32, n)
		return convert(buf, func(i int) float32 { return float32(buf[i]) })
	case dtUint32:
		buf := make([]uint32, n)
		return convert(buf, func(i int) float32 { return float32(buf[i]) })
	}
	return fmt.Errorf("%w: NIfTI datatype %d", ErrUnsupportedFormat, datatype)
}

func writeNIfTI(path string, v *models.Volume, gzipped bool) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var gz *gzip.Writer
	if gzipped {
		gz = gzip.NewWriter(bw)
		w = gz
	}

	if err := encodeNIfTI(w, v); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// encodeNIfTI writes v as little-endian float32 NIfTI-1 with both sform and qform set
func encodeNIfTI(w io.Writer, v *models.Volume) error {
	hdr := newNIfTIHeader(v.Grid)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	// empty extension block
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, v.Data)
}

func newNIfTIHeader(g models.Grid) niftiHeader {
	hdr := niftiHeader{
		SizeofHdr: niftiHeaderSize,
		Regular:   'r',
		Dim:       [8]int16{3, int16(g.Size[0]), int16(g.Size[1]), int16(g.Size[2]), 1, 1, 1, 1},
		Datatype:  dtFloat32,
		Bitpix:    32,
		VoxOffset: niftiVoxOffset,
		SclSlope:  1,
		XYZTUnits: 2, // mm
		QformCode: 1,
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	copy(hdr.Descrip[:], "mmreg")

	// LPS -> RAS
	rot := g.Direction
	for c := 0; c < 3; c++ {
		rot[c] = -rot[c]
		rot[3+c] = -rot[3+c]
	}
	origin := [3]float64{-g.Origin[0], -g.Origin[1], g.Origin[2]}

	rows := [3]*[4]float32{&hdr.SrowX, &hdr.SrowY, &hdr.SrowZ}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rows[r][c] = float32(rot[r*3+c] * g.Spacing[c])
		}
		rows[r][3] = float32(origin[r])
	}

	qfac := float32(1)
	if det3(rot) < 0 {
		qfac = -1
		for r := 0; r < 3; r++ {
			rot[r*3+2] = -rot[r*3+2]
		}
	}
	b, c, d := matrixToQuaternion(rot)
	hdr.QuaternB, hdr.QuaternC, hdr.QuaternD = float32(b), float32(c), float32(d)
	hdr.QoffsetX, hdr.QoffsetY, hdr.QoffsetZ = float32(origin[0]), float32(origin[1]), float32(origin[2])
	hdr.Pixdim = [8]float32{qfac, float32(g.Spacing[0]), float32(g.Spacing[1]), float32(g.Spacing[2]), 1, 1, 1, 1}

	return hdr
}

func quaternionToMatrix(b, c, d float64) [9]float64 {
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		norm := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*norm, c*norm, d*norm
		a = 0
	} else {
		a = math.Sqrt(a)
	}
	return [9]float64{
		a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c),
		2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b),
		2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b,
	}
}

// matrixToQuaternion expects a proper rotation
func matrixToQuaternion(m [9]float64) (b, c, d float64) {
	var a float64
	trace := m[0] + m[4] + m[8] + 1
	if trace > 0.5 {
		a = 0.5 * math.Sqrt(trace)
		b = 0.25 * (m[7] - m[5]) / a
		c = 0.25 * (m[2] - m[6]) / a
		d = 0.25 * (m[3] - m[1]) / a
	} else {
		xd := 1 + m[0] - (m[4] + m[8])
		yd := 1 + m[4] - (m[0] + m[8])
		zd := 1 + m[8] - (m[0] + m[4])
		switch {
		case xd > 1:
			b = 0.5 * math.Sqrt(xd)
			c = 0.25 * (m[1] + m[3]) / b
			d = 0.25 * (m[2] + m[6]) / b
			a = 0.25 * (m[7] - m[5]) / b
		case yd > 1:
			c = 0.5 * math.Sqrt(yd)
			b = 0.25 * (m[1] + m[3]) / c
			d = 0.25 * (m[5] + m[7]) / c
			a = 0.25 * (m[2] - m[6]) / c
		default:
			d = 0.5 * math.Sqrt(zd)
			b = 0.25 * (m[2] + m[6]) / d
			c = 0.25 * (m[5] + m[7]) / d
			a = 0.25 * (m[3] - m[1]) / d
		}
		if a < 0 {
			b, c, d = -b, -c, -d
		}
	}
	return b, c, d
}

func det3(m [9]float64) float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}
