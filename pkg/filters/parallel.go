// Package filters implements the volume filters of the registration
// pipeline: intensity normalization, discrete Gaussian smoothing,
// resampling through a transform, checkerboard composition and subtraction.
package filters

import (
	"errors"
	"runtime"
	"sync"
)

// ErrZeroVariance is returned when a constant volume is normalized
var ErrZeroVariance = errors.New("volume has zero variance")

// forEachSlab splits [0, depth) into contiguous z ranges, one per worker,
// and waits for all of them
func forEachSlab(depth, workers int, fn func(z0, z1 int)) {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > depth {
		workers = depth
	}
	if workers <= 1 {
		fn(0, depth)
		return
	}

	slabsPerWorker := (depth + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		z0 := w * slabsPerWorker
		z1 := z0 + slabsPerWorker
		if z1 > depth {
			z1 = depth
		}
		if z0 >= z1 {
			break
		}
		wg.Add(1)
		go func(z0, z1 int) {
			defer wg.Done()
			fn(z0, z1)
		}(z0, z1)
	}
	wg.Wait()
}
