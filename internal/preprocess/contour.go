package preprocess

import (
	"image"
	"math"
	"sort"
)

type point struct {
	X, Y float64
}

func dist(a, b point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// detectDocumentContour finds the dominant quadrilateral boundary in a
// grayscale image. It returns the four corner points in arbitrary order
// and whether a quadrilateral was found. The largest few contours are
// tried; the first one whose simplified polygon has exactly four
// vertices wins.
func detectDocumentContour(gray *image.Gray) ([4]point, bool) {
	width, height := gray.Bounds().Dx(), gray.Bounds().Dy()

	edges := dilateEdges(cannyEdges(gray, 50, 150), width, height)
	contours := findContours(edges, width, height)
	if len(contours) == 0 {
		return [4]point{}, false
	}

	type candidate struct {
		hull []point
		area float64
	}
	candidates := make([]candidate, 0, len(contours))
	for _, contour := range contours {
		hull := convexHull(contour)
		if len(hull) < 4 {
			continue
		}
		candidates = append(candidates, candidate{hull: hull, area: polygonArea(hull)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].area > candidates[j].area
	})
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}

	for _, c := range candidates {
		epsilon := 0.02 * polygonPerimeter(c.hull)
		approx := approxPolygon(c.hull, epsilon)
		if len(approx) == 4 {
			var quad [4]point
			copy(quad[:], approx)
			return quad, true
		}
	}

	return [4]point{}, false
}

// findContours groups connected edge pixels into contours using
// iterative 8-connected flood fill. Contours below a minimum size are
// dropped as noise.
func findContours(edges [][]bool, width, height int) [][]point {
	const minContourSize = 10

	visited := make([][]bool, height)
	for y := range visited {
		visited[y] = make([]bool, width)
	}

	var contours [][]point
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !edges[y][x] || visited[y][x] {
				continue
			}
			contour := floodFill(edges, visited, x, y, width, height)
			if len(contour) >= minContourSize {
				contours = append(contours, contour)
			}
		}
	}

	return contours
}

func floodFill(edges, visited [][]bool, startX, startY, width, height int) []point {
	type pix struct{ x, y int }
	stack := []pix{{startX, startY}}

	var contour []point
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.x < 0 || p.x >= width || p.y < 0 || p.y >= height {
			continue
		}
		if visited[p.y][p.x] || !edges[p.y][p.x] {
			continue
		}

		visited[p.y][p.x] = true
		contour = append(contour, point{X: float64(p.x), Y: float64(p.y)})

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				stack = append(stack, pix{p.x + dx, p.y + dy})
			}
		}
	}

	return contour
}

// convexHull computes the convex hull of a point set with Andrew's
// monotone chain, returned in counter-clockwise order.
func convexHull(points []point) []point {
	if len(points) < 3 {
		return append([]point(nil), points...)
	}

	pts := append([]point(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})

	cross := func(o, a, b point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	var lower []point
	for _, p := range pts {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}

	var upper []point
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

func polygonPerimeter(poly []point) float64 {
	var total float64
	for i := range poly {
		total += dist(poly[i], poly[(i+1)%len(poly)])
	}
	return total
}

func polygonArea(poly []point) float64 {
	var area float64
	for i := range poly {
		j := (i + 1) % len(poly)
		area += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return math.Abs(area) / 2
}

// approxPolygon simplifies a closed polygon with Douglas-Peucker: the
// ring is split at its two mutually most distant vertices and each open
// chain is simplified with the given tolerance.
func approxPolygon(poly []point, epsilon float64) []point {
	if len(poly) < 3 {
		return poly
	}

	// Find the two vertices farthest apart to anchor the split.
	ai, bi := 0, 1
	best := 0.0
	for i := 0; i < len(poly); i++ {
		for j := i + 1; j < len(poly); j++ {
			if d := dist(poly[i], poly[j]); d > best {
				best = d
				ai, bi = i, j
			}
		}
	}

	chainA := ringSlice(poly, ai, bi)
	chainB := ringSlice(poly, bi, ai)

	simpA := douglasPeucker(chainA, epsilon)
	simpB := douglasPeucker(chainB, epsilon)

	// Chains share their endpoints; drop the duplicated joints.
	result := append([]point(nil), simpA...)
	if len(simpB) > 2 {
		result = append(result, simpB[1:len(simpB)-1]...)
	}
	return result
}

// ringSlice returns the vertices from index a to index b inclusive,
// walking forward around the ring.
func ringSlice(poly []point, a, b int) []point {
	var out []point
	for i := a; ; i = (i + 1) % len(poly) {
		out = append(out, poly[i])
		if i == b {
			break
		}
	}
	return out
}

func douglasPeucker(points []point, epsilon float64) []point {
	if len(points) < 3 {
		return points
	}

	start, end := points[0], points[len(points)-1]
	maxDist := 0.0
	maxIdx := 0
	for i := 1; i < len(points)-1; i++ {
		if d := perpendicularDistance(points[i], start, end); d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}

	if maxDist <= epsilon {
		return []point{start, end}
	}

	left := douglasPeucker(points[:maxIdx+1], epsilon)
	right := douglasPeucker(points[maxIdx:], epsilon)
	return append(left[:len(left)-1], right...)
}

func perpendicularDistance(p, a, b point) float64 {
	length := dist(a, b)
	if length == 0 {
		return dist(p, a)
	}
	return math.Abs((b.X-a.X)*(a.Y-p.Y)-(a.X-p.X)*(b.Y-a.Y)) / length
}
