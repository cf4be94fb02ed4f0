// Package imagehash produces the dedup and cache keys for receipt
// images: an exact content hash plus perceptual hashes that survive
// re-encoding and small pixel differences.
package imagehash

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"math"
	"math/bits"
	"sort"
	"strconv"

	"github.com/disintegration/imaging"
)

const hashSize = 8

// Hash is a 64-bit perceptual hash.
type Hash uint64

// String renders the hash as 16 lowercase hex digits.
func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Distance returns the Hamming distance to another hash. Lower means
// more similar; 0 means identical.
func (h Hash) Distance(other Hash) int {
	return bits.OnesCount64(uint64(h) ^ uint64(other))
}

// ParseHash parses a hex string produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return Hash(v), nil
}

// HammingDistance compares two hex-encoded hashes.
func HammingDistance(a, b string) (int, error) {
	ha, err := ParseHash(a)
	if err != nil {
		return 0, err
	}
	hb, err := ParseHash(b)
	if err != nil {
		return 0, err
	}
	return ha.Distance(hb), nil
}

// ContentHash returns the MD5 hex digest of the raw image bytes. It
// identifies byte-identical uploads, not visually identical images.
func ContentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// CacheKey builds the result-cache key for one scan:
// "ocr:{content_hash}:{param_hash}" where the param hash folds in the
// language and a canonical string of the processing options.
func CacheKey(imageData []byte, lang, params string) string {
	paramSum := md5.Sum([]byte(lang + params))
	paramHash := hex.EncodeToString(paramSum[:])[:8]
	return fmt.Sprintf("ocr:%s:%s", ContentHash(imageData), paramHash)
}

// AverageHash computes the 8x8 average hash: each bit records whether
// a downsampled pixel is at least the mean luminance.
func AverageHash(img image.Image) Hash {
	pixels := downsampleGray(img, hashSize, hashSize)

	mean := 0.0
	for _, p := range pixels {
		mean += p
	}
	mean /= float64(len(pixels))

	var h Hash
	for _, p := range pixels {
		h <<= 1
		if p >= mean {
			h |= 1
		}
	}
	return h
}

// DifferenceHash computes the 8x8 difference hash: each bit records
// whether a pixel is brighter than its left neighbor in a 9x8
// downsample, capturing the horizontal gradient structure.
func DifferenceHash(img image.Image) Hash {
	pixels := downsampleGray(img, hashSize+1, hashSize)

	var h Hash
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			h <<= 1
			if pixels[y*(hashSize+1)+x+1] > pixels[y*(hashSize+1)+x] {
				h |= 1
			}
		}
	}
	return h
}

// PerceptualHash computes the DCT-based hash: the image is reduced to
// 32x32, transformed, and each bit records whether a low-frequency
// coefficient exceeds their median. Robust to scaling and contrast
// shifts.
func PerceptualHash(img image.Image) Hash {
	const size = 32
	pixels := downsampleGray(img, size, size)

	grid := make([][]float64, size)
	for y := range grid {
		grid[y] = pixels[y*size : (y+1)*size]
	}
	freq := dct2d(grid)

	low := make([]float64, 0, hashSize*hashSize)
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			low = append(low, freq[y][x])
		}
	}

	med := median(low)

	var h Hash
	for _, v := range low {
		h <<= 1
		if v > med {
			h |= 1
		}
	}
	return h
}

// downsampleGray resizes the image to w x h and returns row-major
// luminance values.
func downsampleGray(img image.Image, w, h int) []float64 {
	small := imaging.Resize(imaging.Grayscale(img), w, h, imaging.Lanczos)

	pixels := make([]float64, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := small.At(x, y).RGBA()
			pixels = append(pixels, float64(r>>8))
		}
	}
	return pixels
}

// dct2d applies a type-II DCT to each row, then each column.
func dct2d(grid [][]float64) [][]float64 {
	n := len(grid)

	rows := make([][]float64, n)
	for y := range grid {
		rows[y] = dct1d(grid[y])
	}

	out := make([][]float64, n)
	for y := range out {
		out[y] = make([]float64, n)
	}
	col := make([]float64, n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			col[y] = rows[y][x]
		}
		t := dct1d(col)
		for y := 0; y < n; y++ {
			out[y][x] = t[y]
		}
	}
	return out
}

func dct1d(in []float64) []float64 {
	n := len(in)
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += in[i] * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(n)))
		}
		out[k] = sum
	}
	return out
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
