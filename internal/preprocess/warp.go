package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// orderCorners sorts four quadrilateral corners into top-left,
// top-right, bottom-right, bottom-left order. The top-left corner has
// the smallest coordinate sum, the bottom-right the largest; the
// top-right has the smallest y-x difference, the bottom-left the
// largest.
func orderCorners(quad [4]point) [4]point {
	var ordered [4]point

	sumMin, sumMax := 0, 0
	diffMin, diffMax := 0, 0
	for i := 1; i < 4; i++ {
		if quad[i].X+quad[i].Y < quad[sumMin].X+quad[sumMin].Y {
			sumMin = i
		}
		if quad[i].X+quad[i].Y > quad[sumMax].X+quad[sumMax].Y {
			sumMax = i
		}
		if quad[i].Y-quad[i].X < quad[diffMin].Y-quad[diffMin].X {
			diffMin = i
		}
		if quad[i].Y-quad[i].X > quad[diffMax].Y-quad[diffMax].X {
			diffMax = i
		}
	}

	ordered[0] = quad[sumMin]  // top-left
	ordered[1] = quad[diffMin] // top-right
	ordered[2] = quad[sumMax]  // bottom-right
	ordered[3] = quad[diffMax] // bottom-left
	return ordered
}

// fourPointTransform warps the quadrilateral region of img onto an
// axis-aligned rectangle. The output is sized from the longer of each
// pair of opposing quadrilateral edges so the document is not squashed.
func fourPointTransform(img image.Image, quad [4]point) (image.Image, error) {
	rect := orderCorners(quad)
	tl, tr, br, bl := rect[0], rect[1], rect[2], rect[3]

	maxWidth := int(math.Max(dist(br, bl), dist(tr, tl)))
	maxHeight := int(math.Max(dist(tr, br), dist(tl, bl)))
	if maxWidth < 1 || maxHeight < 1 {
		return nil, fmt.Errorf("degenerate document quadrilateral %v", quad)
	}

	dst := [4]point{
		{0, 0},
		{float64(maxWidth - 1), 0},
		{float64(maxWidth - 1), float64(maxHeight - 1)},
		{0, float64(maxHeight - 1)},
	}

	// Map output coordinates back into the source quadrilateral and
	// sample bilinearly.
	h, err := homography(dst, rect)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, maxWidth, maxHeight))
	for v := 0; v < maxHeight; v++ {
		for u := 0; u < maxWidth; u++ {
			w := h[6]*float64(u) + h[7]*float64(v) + 1
			if w == 0 {
				continue
			}
			sx := (h[0]*float64(u) + h[1]*float64(v) + h[2]) / w
			sy := (h[3]*float64(u) + h[4]*float64(v) + h[5]) / w
			out.Set(u, v, bilinearSample(img, bounds, sx, sy))
		}
	}

	return out, nil
}

// homography solves the 8-parameter projective transform mapping the
// four src points onto the four dst points:
//
//	x' = (a*x + b*y + c) / (g*x + h*y + 1)
//	y' = (d*x + e*y + f) / (g*x + h*y + 1)
func homography(src, dst [4]point) ([8]float64, error) {
	var m [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		xp, yp := dst[i].X, dst[i].Y
		m[2*i] = [9]float64{x, y, 1, 0, 0, 0, -x * xp, -y * xp, xp}
		m[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -x * yp, -y * yp, yp}
	}

	// Gaussian elimination with partial pivoting.
	for col := 0; col < 8; col++ {
		pivot := col
		for row := col + 1; row < 8; row++ {
			if math.Abs(m[row][col]) > math.Abs(m[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return [8]float64{}, fmt.Errorf("singular perspective system")
		}
		m[col], m[pivot] = m[pivot], m[col]

		for row := 0; row < 8; row++ {
			if row == col {
				continue
			}
			factor := m[row][col] / m[col][col]
			for k := col; k < 9; k++ {
				m[row][k] -= factor * m[col][k]
			}
		}
	}

	var h [8]float64
	for i := 0; i < 8; i++ {
		h[i] = m[i][8] / m[i][i]
	}
	return h, nil
}

func bilinearSample(img image.Image, bounds image.Rectangle, x, y float64) color.Color {
	x0 := clamp(int(math.Floor(x)), 0, bounds.Dx()-1)
	y0 := clamp(int(math.Floor(y)), 0, bounds.Dy()-1)
	x1 := clamp(x0+1, 0, bounds.Dx()-1)
	y1 := clamp(y0+1, 0, bounds.Dy()-1)

	fx := x - math.Floor(x)
	fy := y - math.Floor(y)

	at := func(px, py int) (float64, float64, float64, float64) {
		r, g, b, a := img.At(px+bounds.Min.X, py+bounds.Min.Y).RGBA()
		return float64(r >> 8), float64(g >> 8), float64(b >> 8), float64(a >> 8)
	}

	r00, g00, b00, a00 := at(x0, y0)
	r10, g10, b10, a10 := at(x1, y0)
	r01, g01, b01, a01 := at(x0, y1)
	r11, g11, b11, a11 := at(x1, y1)

	lerp2 := func(v00, v10, v01, v11 float64) uint8 {
		top := v00*(1-fx) + v10*fx
		bottom := v01*(1-fx) + v11*fx
		return uint8(top*(1-fy) + bottom*fy)
	}

	return color.NRGBA{
		R: lerp2(r00, r10, r01, r11),
		G: lerp2(g00, g10, g01, g11),
		B: lerp2(b00, b10, b01, b11),
		A: lerp2(a00, a10, a01, a11),
	}
}
