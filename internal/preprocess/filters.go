package preprocess

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
)

// denoise applies the configured noise filter to a grayscale image.
// Unknown or empty methods pass the image through.
func denoise(gray *image.Gray, method string) *image.Gray {
	switch method {
	case DenoiseBilateral:
		return bilateralFilter(gray, 4, 75, 75)
	case DenoiseMedian:
		return toGray(effect.Median(gray, 5))
	case DenoiseGaussian:
		return toGray(blur.Gaussian(gray, 2))
	case DenoiseNLMeans:
		return nlMeansFilter(gray, 10, 3, 10)
	default:
		return gray
	}
}

// bilateralFilter smooths while preserving edges: each pixel becomes a
// weighted average of its neighborhood where weights fall off with both
// spatial distance and intensity difference.
func bilateralFilter(gray *image.Gray, radius int, sigmaColor, sigmaSpace float64) *image.Gray {
	width, height := gray.Bounds().Dx(), gray.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, width, height))

	colorDenom := 2 * sigmaColor * sigmaColor
	spaceDenom := 2 * sigmaSpace * sigmaSpace

	// Spatial weights do not change per pixel.
	size := 2*radius + 1
	spatial := make([]float64, size*size)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			spatial[(dy+radius)*size+(dx+radius)] = math.Exp(-d2 / spaceDenom)
		}
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			center := float64(gray.GrayAt(x, y).Y)

			var sum, norm float64
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					px := clamp(x+dx, 0, width-1)
					py := clamp(y+dy, 0, height-1)
					val := float64(gray.GrayAt(px, py).Y)

					diff := val - center
					weight := spatial[(dy+radius)*size+(dx+radius)] *
						math.Exp(-(diff*diff)/colorDenom)

					sum += val * weight
					norm += weight
				}
			}

			out.SetGray(x, y, color.Gray{Y: uint8(sum/norm + 0.5)})
		}
	}

	return out
}

// nlMeansFilter denoises by averaging pixels whose surrounding patches
// look alike, searching a bounded window around each pixel. h controls
// filtering strength, patchRadius the compared patch, searchRadius the
// search window.
func nlMeansFilter(gray *image.Gray, h float64, patchRadius, searchRadius int) *image.Gray {
	width, height := gray.Bounds().Dx(), gray.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, width, height))

	h2 := h * h
	patchArea := float64((2*patchRadius + 1) * (2*patchRadius + 1))

	patchDistance := func(x1, y1, x2, y2 int) float64 {
		var sum float64
		for dy := -patchRadius; dy <= patchRadius; dy++ {
			for dx := -patchRadius; dx <= patchRadius; dx++ {
				a := float64(gray.GrayAt(clamp(x1+dx, 0, width-1), clamp(y1+dy, 0, height-1)).Y)
				b := float64(gray.GrayAt(clamp(x2+dx, 0, width-1), clamp(y2+dy, 0, height-1)).Y)
				sum += (a - b) * (a - b)
			}
		}
		return sum / patchArea
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var sum, norm float64
			for sy := -searchRadius; sy <= searchRadius; sy++ {
				for sx := -searchRadius; sx <= searchRadius; sx++ {
					nx := clamp(x+sx, 0, width-1)
					ny := clamp(y+sy, 0, height-1)

					weight := math.Exp(-patchDistance(x, y, nx, ny) / h2)
					sum += float64(gray.GrayAt(nx, ny).Y) * weight
					norm += weight
				}
			}
			out.SetGray(x, y, color.Gray{Y: uint8(sum/norm + 0.5)})
		}
	}

	return out
}

// enhanceContrast applies CLAHE (contrast limited adaptive histogram
// equalization) with an 8x8 tile grid and clip limit 2.0. Each tile gets
// its own equalization mapping; pixel values are bilinearly interpolated
// between the four surrounding tile mappings to avoid visible seams.
func enhanceContrast(gray *image.Gray) *image.Gray {
	const (
		tilesX    = 8
		tilesY    = 8
		clipLimit = 2.0
	)

	width, height := gray.Bounds().Dx(), gray.Bounds().Dy()
	if width < tilesX || height < tilesY {
		return gray
	}

	tileWidth := (width + tilesX - 1) / tilesX
	tileHeight := (height + tilesY - 1) / tilesY

	// Build a clipped equalization lookup table per tile.
	luts := make([][][256]uint8, tilesY)
	for ty := 0; ty < tilesY; ty++ {
		luts[ty] = make([][256]uint8, tilesX)
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileWidth, ty*tileHeight
			x1 := clamp(x0+tileWidth, 0, width)
			y1 := clamp(y0+tileHeight, 0, height)

			var hist [256]float64
			count := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					hist[gray.GrayAt(x, y).Y]++
					count++
				}
			}
			if count == 0 {
				continue
			}

			// Clip the histogram and redistribute the excess evenly.
			limit := clipLimit * float64(count) / 256.0
			var excess float64
			for i := 0; i < 256; i++ {
				if hist[i] > limit {
					excess += hist[i] - limit
					hist[i] = limit
				}
			}
			bonus := excess / 256.0
			var cdf float64
			for i := 0; i < 256; i++ {
				cdf += hist[i] + bonus
				luts[ty][tx][i] = uint8(cdf / float64(count) * 255.0)
			}
		}
	}

	out := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			val := gray.GrayAt(x, y).Y

			// Position relative to tile centers.
			fx := (float64(x) - float64(tileWidth)/2) / float64(tileWidth)
			fy := (float64(y) - float64(tileHeight)/2) / float64(tileHeight)

			tx0 := clamp(int(math.Floor(fx)), 0, tilesX-1)
			ty0 := clamp(int(math.Floor(fy)), 0, tilesY-1)
			tx1 := clamp(tx0+1, 0, tilesX-1)
			ty1 := clamp(ty0+1, 0, tilesY-1)

			wx := fx - math.Floor(fx)
			wy := fy - math.Floor(fy)
			if fx < 0 {
				wx = 0
			}
			if fy < 0 {
				wy = 0
			}

			top := float64(luts[ty0][tx0][val])*(1-wx) + float64(luts[ty0][tx1][val])*wx
			bottom := float64(luts[ty1][tx0][val])*(1-wx) + float64(luts[ty1][tx1][val])*wx
			out.SetGray(x, y, color.Gray{Y: uint8(top*(1-wy) + bottom*wy)})
		}
	}

	return out
}

// binarize thresholds a grayscale image with the configured method.
// Unknown or empty methods pass the image through.
func binarize(gray *image.Gray, method string) *image.Gray {
	switch method {
	case BinarizeOtsu:
		return binarizeOtsu(gray)
	case BinarizeAdaptive:
		return binarizeAdaptive(gray, 11, 2)
	case BinarizeSimple:
		return applyThreshold(gray, 127)
	default:
		return gray
	}
}

// binarizeAdaptive thresholds each pixel against a Gaussian-weighted
// mean of its window minus a constant offset, which tolerates uneven
// receipt lighting better than one global threshold.
func binarizeAdaptive(gray *image.Gray, window int, offset float64) *image.Gray {
	width, height := gray.Bounds().Dx(), gray.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, width, height))

	radius := window / 2
	sigma := 0.3*(float64(window-1)*0.5-1) + 0.8

	weights := make([]float64, window*window)
	var weightSum float64
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			w := math.Exp(-float64(dx*dx+dy*dy) / (2 * sigma * sigma))
			weights[(dy+radius)*window+(dx+radius)] = w
			weightSum += w
		}
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var mean float64
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					px := clamp(x+dx, 0, width-1)
					py := clamp(y+dy, 0, height-1)
					mean += float64(gray.GrayAt(px, py).Y) * weights[(dy+radius)*window+(dx+radius)]
				}
			}
			mean /= weightSum

			if float64(gray.GrayAt(x, y).Y) > mean-offset {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	return out
}

// closeMorph applies a morphological closing (dilate then erode) to
// reconnect glyph strokes broken by binarization.
func closeMorph(gray *image.Gray) *image.Gray {
	dilated := effect.Dilate(gray, 1)
	eroded := effect.Erode(dilated, 1)
	return toGray(eroded)
}
