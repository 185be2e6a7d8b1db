package vision

// Binary mask utilities for cleaning the foreground difference mask and
// segmenting it into connected components. Masks are row-major []bool of
// size w*h.

// dilate expands true regions by a square structuring element of the given
// radius (kernel size = 2*radius+1).
func dilate(mask []bool, w, h, radius int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					out[ny*w+nx] = true
				}
			}
		}
	}
	return out
}

// erode shrinks true regions by a square structuring element of the given
// radius: a pixel survives only if its whole neighbourhood is set.
func erode(mask []bool, w, h, radius int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
	pixel:
		for x := 0; x < w; x++ {
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue pixel
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue pixel
					}
					if !mask[ny*w+nx] {
						continue pixel
					}
				}
			}
			out[y*w+x] = true
		}
	}
	return out
}

// morphClose fills small holes: dilate then erode, iterated.
func morphClose(mask []bool, w, h, radius, iterations int) []bool {
	for i := 0; i < iterations; i++ {
		mask = erode(dilate(mask, w, h, radius), w, h, radius)
	}
	return mask
}

// morphOpen removes isolated speckle: erode then dilate, iterated.
func morphOpen(mask []bool, w, h, radius, iterations int) []bool {
	for i := 0; i < iterations; i++ {
		mask = dilate(erode(mask, w, h, radius), w, h, radius)
	}
	return mask
}

// component is a connected region of foreground pixels.
type component struct {
	indices []int // row-major pixel indices
	// bounding box
	minX, minY, maxX, maxY int
	// centroid
	cx, cy float64
}

func (c *component) area() int { return len(c.indices) }

// aspect returns the elongation of the bounding box, always >= 1.
func (c *component) aspect() float64 {
	bw := c.maxX - c.minX + 1
	bh := c.maxY - c.minY + 1
	longer, shorter := bw, bh
	if shorter > longer {
		longer, shorter = shorter, longer
	}
	return float64(longer) / float64(shorter)
}

// findComponents segments the mask into 8-connected components using an
// iterative flood fill (stack based, no recursion).
func findComponents(mask []bool, w, h int) []*component {
	visited := make([]bool, len(mask))
	var comps []*component

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		c := &component{minX: w, minY: h, maxX: -1, maxY: -1}
		stack := []int{start}
		visited[start] = true
		var sumX, sumY float64
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			c.indices = append(c.indices, i)
			sumX += float64(x)
			sumY += float64(y)
			if x < c.minX {
				c.minX = x
			}
			if x > c.maxX {
				c.maxX = x
			}
			if y < c.minY {
				c.minY = y
			}
			if y > c.maxY {
				c.maxY = y
			}
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
						continue
					}
					ni := ny*w + nx
					if mask[ni] && !visited[ni] {
						visited[ni] = true
						stack = append(stack, ni)
					}
				}
			}
		}
		n := float64(len(c.indices))
		c.cx = sumX / n
		c.cy = sumY / n
		comps = append(comps, c)
	}
	return comps
}

// nearestToPoint returns the component pixel closest to (px, py). For an
// arrow silhouette this picks the tip: the point of the shaft nearest the
// target centre.
func (c *component) nearestToPoint(px, py float64, w int) (x, y int) {
	bestD := -1.0
	for _, i := range c.indices {
		ix, iy := i%w, i/w
		dx := float64(ix) - px
		dy := float64(iy) - py
		d := dx*dx + dy*dy
		if bestD < 0 || d < bestD {
			bestD = d
			x, y = ix, iy
		}
	}
	return x, y
}
