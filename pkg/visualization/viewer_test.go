package visualization

import (
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"mmreg/internal/models"
)

// zRampVolume gives every z slice a constant value equal to its index
func zRampVolume(width, height, depth int) *models.Volume {
	v := models.NewVolume([3]int{width, height, depth})
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v.Set(x, y, z, float32(z))
			}
		}
	}
	return v
}

// TestExtractSlice verifies slice dimensions and grayscale windowing
func TestExtractSlice(t *testing.T) {
	viewer := NewViewer(zRampVolume(10, 8, 5), Grayscale)

	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract Z slice: %v", err)
	}
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 8 {
		t.Errorf("Expected 10x8 slice, got %v", img.Bounds())
	}
	if g := img.(*image.Gray16).Gray16At(3, 3).Y; g != 0 {
		t.Errorf("Expected black at the window minimum, got %d", g)
	}

	img, err = viewer.ExtractSlice("z", 4)
	if err != nil {
		t.Fatalf("Failed to extract Z slice: %v", err)
	}
	if g := img.(*image.Gray16).Gray16At(3, 3).Y; g != 65535 {
		t.Errorf("Expected white at the window maximum, got %d", g)
	}

	img, err = viewer.ExtractSlice("x", 2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if img.Bounds().Dx() != 5 || img.Bounds().Dy() != 8 {
		t.Errorf("Expected 5x8 slice, got %v", img.Bounds())
	}

	img, err = viewer.ExtractSlice("y", 7)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 5 {
		t.Errorf("Expected 10x5 slice, got %v", img.Bounds())
	}
}

// TestExtractSliceErrors verifies invalid axes and positions are rejected
func TestExtractSliceErrors(t *testing.T) {
	viewer := NewViewer(zRampVolume(4, 4, 4), Grayscale)

	if _, err := viewer.ExtractSlice("w", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
	if _, err := viewer.ExtractSlice("z", 4); err == nil {
		t.Error("Expected error for position beyond depth")
	}
	if _, err := viewer.ExtractSlice("x", -1); err == nil {
		t.Error("Expected error for negative position")
	}
}

// TestDivergingColormap verifies that zero is white and the extremes are coloured
func TestDivergingColormap(t *testing.T) {
	v := models.NewVolume([3]int{3, 1, 1})
	v.Data = []float32{-2, 0, 2}
	viewer := NewViewer(v, Diverging)

	low, high := viewer.low, viewer.high
	if low != -2 || high != 2 {
		t.Errorf("Expected symmetric window [-2, 2], got [%g, %g]", low, high)
	}

	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	rgba := img.(*image.RGBA)

	mid := rgba.RGBAAt(1, 0)
	if mid.R < 250 || mid.G < 250 || mid.B < 250 {
		t.Errorf("Expected white for zero, got %v", mid)
	}
	neg := rgba.RGBAAt(0, 0)
	if neg.B <= neg.R {
		t.Errorf("Expected blue for negative values, got %v", neg)
	}
	pos := rgba.RGBAAt(2, 0)
	if pos.R <= pos.B {
		t.Errorf("Expected red for positive values, got %v", pos)
	}
}

// TestNaNVoxels verifies that NaN renders as the middle of the colormap
func TestNaNVoxels(t *testing.T) {
	v := models.NewVolume([3]int{3, 1, 1})
	v.Data = []float32{-1, float32(math.NaN()), 1}

	img, err := NewViewer(v, Diverging).ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if c := img.(*image.RGBA).RGBAAt(1, 0); c.R < 250 || c.G < 250 || c.B < 250 {
		t.Errorf("Expected white for NaN, got %v", c)
	}

	img, err = NewViewer(v, Grayscale).ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if g := img.(*image.Gray16).Gray16At(1, 0).Y; g != 32767 {
		t.Errorf("Expected mid gray for NaN, got %d", g)
	}
}

// TestSaveMidSlices verifies that PNG and TIFF previews can be decoded again
func TestSaveMidSlices(t *testing.T) {
	dir := t.TempDir()
	viewer := NewViewer(zRampVolume(6, 5, 4), Grayscale)

	for _, format := range []string{"png", "tiff"} {
		paths, err := viewer.SaveMidSlices(filepath.Join(dir, format), "fixed", format)
		if err != nil {
			t.Fatalf("Failed to save %s previews: %v", format, err)
		}
		if len(paths) != 3 {
			t.Fatalf("Expected 3 previews, got %d", len(paths))
		}

		f, err := os.Open(paths[2])
		if err != nil {
			t.Fatalf("Failed to open preview: %v", err)
		}
		var img image.Image
		if format == "png" {
			img, err = png.Decode(f)
		} else {
			img, err = tiff.Decode(f)
		}
		f.Close()
		if err != nil {
			t.Fatalf("Failed to decode %s preview: %v", format, err)
		}
		if img.Bounds().Dx() != 6 || img.Bounds().Dy() != 5 {
			t.Errorf("Expected 6x5 z preview, got %v", img.Bounds())
		}
	}

	if _, err := viewer.SaveMidSlices(dir, "fixed", "bmp"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

// TestSaveSliceSequence verifies one file per slice
func TestSaveSliceSequence(t *testing.T) {
	dir := t.TempDir()
	viewer := NewViewer(zRampVolume(3, 3, 4), Grayscale)

	if err := viewer.SaveSliceSequence("z", dir, "png"); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "slice_z_*.png"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 4 {
		t.Errorf("Expected 4 slices, got %d", len(files))
	}

	if err := viewer.SaveSliceSequence("q", dir, "png"); err == nil {
		t.Error("Expected error for invalid axis")
	}
}
