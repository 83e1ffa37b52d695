package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"

	"mmreg/internal/models"
)

// Colormap selects how voxel values become pixels
type Colormap int

const (
	// Grayscale maps the volume's [min, max] range onto black..white
	Grayscale Colormap = iota

	// Diverging maps negative values to blue, zero to white and positive to red.
	// It suits difference volumes.
	Diverging
)

var (
	divergingLow  = colorful.Color{R: 0.129, G: 0.400, B: 0.675}
	divergingMid  = colorful.Color{R: 1, G: 1, B: 1}
	divergingHigh = colorful.Color{R: 0.698, G: 0.094, B: 0.169}
)

// Viewer renders orthogonal slices of a volume as images
type Viewer struct {
	volume   *models.Volume
	colormap Colormap

	// display window
	low, high float64

	lut []color.RGBA
}

// NewViewer creates a viewer whose display window spans the volume's range.
// For the diverging colormap the window is symmetric around zero.
func NewViewer(volume *models.Volume, cm Colormap) *Viewer {
	v := &Viewer{volume: volume, colormap: cm}

	low, high := math.Inf(1), math.Inf(-1)
	for _, val := range volume.Data {
		f := float64(val)
		if f < low {
			low = f
		}
		if f > high {
			high = f
		}
	}
	// empty or all-NaN volume
	if math.IsInf(low, 1) {
		low, high = 0, 1
	}

	if cm == Diverging {
		m := math.Max(math.Abs(low), math.Abs(high))
		if m == 0 {
			m = 1
		}
		low, high = -m, m
		v.lut = divergingTable(256)
	}
	if high <= low {
		high = low + 1
	}
	v.low, v.high = low, high
	return v
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis.
// An x slice is laid out (z, y), a y slice (x, z) and a z slice (x, y).
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	size := v.volume.Size

	var (
		w, h  int
		voxel func(px, py int) (int, int, int)
	)
	switch axis {
	case "x", "X":
		if position >= size[0] {
			return nil, fmt.Errorf("position %d exceeds width %d", position, size[0])
		}
		w, h = size[2], size[1]
		voxel = func(px, py int) (int, int, int) { return position, py, px }
	case "y", "Y":
		if position >= size[1] {
			return nil, fmt.Errorf("position %d exceeds height %d", position, size[1])
		}
		w, h = size[0], size[2]
		voxel = func(px, py int) (int, int, int) { return px, position, py }
	case "z", "Z":
		if position >= size[2] {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, size[2])
		}
		w, h = size[0], size[1]
		voxel = func(px, py int) (int, int, int) { return px, py, position }
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	rect := image.Rect(0, 0, w, h)
	if v.colormap == Diverging {
		img := image.NewRGBA(rect)
		for py := 0; py < h; py++ {
			for px := 0; px < w; px++ {
				t := v.normalized(v.volume.At(voxel(px, py)))
				img.SetRGBA(px, py, v.lut[int(t*float64(len(v.lut)-1)+0.5)])
			}
		}
		return img, nil
	}

	img := image.NewGray16(rect)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			t := v.normalized(v.volume.At(voxel(px, py)))
			img.SetGray16(px, py, color.Gray16{Y: uint16(t * 65535)})
		}
	}
	return img, nil
}

// normalized maps a voxel value into [0, 1] through the display window.
// NaN maps to the middle of the window.
func (v *Viewer) normalized(val float32) float64 {
	if math.IsNaN(float64(val)) {
		return 0.5
	}
	t := (float64(val) - v.low) / (v.high - v.low)
	return math.Max(0, math.Min(1, t))
}

// SaveSlice saves an extracted slice as PNG or TIFF depending on the extension
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return png.Encode(file, img)
	case ".tif", ".tiff":
		return tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	}
	return fmt.Errorf("unsupported image extension: %s", filename)
}

// SaveMidSlices saves the central slice along each axis as
// <name>_<axis>.<format> in outputDir and returns the written paths
func (v *Viewer) SaveMidSlices(outputDir, name, format string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var written []string
	for d, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, v.volume.Size[d]/2)
		if err != nil {
			return written, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.%s", name, axis, format))
		if err := v.SaveSlice(img, filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}
	return written, nil
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis, outputDir, format string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Size[0]
	case "y", "Y":
		maxPos = v.volume.Size[1]
	case "z", "Z":
		maxPos = v.volume.Size[2]
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", axis, pos, format))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// divergingTable blends blue -> white -> red in Lab space
func divergingTable(n int) []color.RGBA {
	lut := make([]color.RGBA, n)
	for i := range lut {
		t := float64(i) / float64(n-1)
		var c colorful.Color
		if t < 0.5 {
			c = divergingLow.BlendLab(divergingMid, t*2)
		} else {
			c = divergingMid.BlendLab(divergingHigh, (t-0.5)*2)
		}
		r, g, b := c.Clamped().RGB255()
		lut[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return lut
}
