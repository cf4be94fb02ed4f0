package preprocess

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// smallAngleCeiling is the magnitude above which a detected skew angle
// is treated as contour-detection noise rather than real skew.
const smallAngleCeiling = 5.0

// minRotationAngle below which rotation is not worth the resampling loss.
const minRotationAngle = 0.5

// detectSkewAngle estimates the document skew in degrees from the
// orientation of detected lines. Text baselines and table rules dominate
// the Hough accumulator, so the median line angle tracks the document
// rotation. Returns 0 when no lines are found.
func detectSkewAngle(gray *image.Gray) float64 {
	binary := binarizeOtsu(gray)
	edges := cannyEdges(binary, 50, 150)

	angles := houghLineAngles(edges, binary.Bounds().Dx(), binary.Bounds().Dy())
	if len(angles) == 0 {
		return 0
	}

	sort.Float64s(angles)
	median := angles[len(angles)/2]
	if len(angles)%2 == 0 {
		median = (angles[len(angles)/2-1] + angles[len(angles)/2]) / 2
	}

	// Fold into [-45, 45]; larger magnitudes are the same lines seen
	// from the perpendicular family.
	if median < -45 {
		median += 90
	} else if median > 45 {
		median -= 90
	}

	return median
}

// houghLineAngles votes edge pixels into (rho, theta) space and returns
// the angle in degrees, offset by -90 so horizontal text lines read as
// 0, of every accumulator peak above the vote threshold.
func houghLineAngles(edges [][]bool, width, height int) []float64 {
	const (
		numAngles     = 180
		voteThreshold = 100
	)

	maxDist := int(math.Hypot(float64(width), float64(height)))
	accumulator := make([][]int, maxDist*2)
	for i := range accumulator {
		accumulator[i] = make([]int, numAngles)
	}

	sinTable := make([]float64, numAngles)
	cosTable := make([]float64, numAngles)
	for theta := 0; theta < numAngles; theta++ {
		rad := float64(theta) * math.Pi / 180.0
		sinTable[theta] = math.Sin(rad)
		cosTable[theta] = math.Cos(rad)
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !edges[y][x] {
				continue
			}
			for theta := 0; theta < numAngles; theta++ {
				rho := float64(x)*cosTable[theta] + float64(y)*sinTable[theta]
				rhoIdx := int(rho) + maxDist
				if rhoIdx >= 0 && rhoIdx < maxDist*2 {
					accumulator[rhoIdx][theta]++
				}
			}
		}
	}

	var angles []float64
	for rhoIdx := 0; rhoIdx < maxDist*2; rhoIdx++ {
		for theta := 0; theta < numAngles; theta++ {
			if accumulator[rhoIdx][theta] < voteThreshold {
				continue
			}
			// Local maximum over the 5x5 neighborhood only, to avoid
			// counting one physical line many times.
			isMax := true
			for dr := -2; dr <= 2 && isMax; dr++ {
				for dt := -2; dt <= 2; dt++ {
					if dr == 0 && dt == 0 {
						continue
					}
					nr := rhoIdx + dr
					nt := (theta + dt + numAngles) % numAngles
					if nr >= 0 && nr < maxDist*2 && accumulator[nr][nt] > accumulator[rhoIdx][theta] {
						isMax = false
						break
					}
				}
			}
			if isMax {
				angles = append(angles, float64(theta)-90)
			}
		}
	}

	return angles
}

// deskew rotates the image by the detected skew angle. Angles at or
// above the small-angle ceiling are ignored as detection noise, and
// angles below the minimum are not worth resampling for.
func deskew(gray *image.Gray) *image.Gray {
	angle := detectSkewAngle(gray)

	if math.Abs(angle) < minRotationAngle || math.Abs(angle) >= smallAngleCeiling {
		return gray
	}

	rotated := imaging.Rotate(gray, angle, color.White)
	return toGray(rotated)
}

// binarizeOtsu thresholds a grayscale image at the level that minimizes
// intra-class variance over the histogram.
func binarizeOtsu(gray *image.Gray) *image.Gray {
	width, height := gray.Bounds().Dx(), gray.Bounds().Dy()

	var hist [256]int
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			hist[gray.GrayAt(x, y).Y]++
		}
	}

	total := width * height
	var sumAll float64
	for level, count := range hist {
		sumAll += float64(level * count)
	}

	var sumBack, weightBack float64
	bestThreshold := 0
	bestVariance := -1.0
	for level := 0; level < 256; level++ {
		weightBack += float64(hist[level])
		if weightBack == 0 {
			continue
		}
		weightFore := float64(total) - weightBack
		if weightFore == 0 {
			break
		}

		sumBack += float64(level * hist[level])
		meanBack := sumBack / weightBack
		meanFore := (sumAll - sumBack) / weightFore

		variance := weightBack * weightFore * (meanBack - meanFore) * (meanBack - meanFore)
		if variance > bestVariance {
			bestVariance = variance
			bestThreshold = level
		}
	}

	return applyThreshold(gray, uint8(bestThreshold))
}

func applyThreshold(gray *image.Gray, threshold uint8) *image.Gray {
	width, height := gray.Bounds().Dx(), gray.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if gray.GrayAt(x, y).Y > threshold {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}
