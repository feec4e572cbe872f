package render

import (
	"image"
	"image/color"
)

// Line weights for box drawing, one digit per direction in the order up,
// right, down, left: 0 none, 1 light, 2 heavy, 3 double. "x" marks the
// diagonals, which are drawn separately.
var boxWeights = [128]string{
	"0101", "0202", "1010", "2020", "0101", "0202", "1010", "2020", // 2500
	"0101", "0202", "1010", "2020", "0110", "0210", "0120", "0220",
	"0011", "0012", "0021", "0022", "1100", "1200", "2100", "2200", // 2510
	"1001", "1002", "2001", "2002", "1110", "1210", "2110", "1120",
	"2120", "2210", "1220", "2220", "1011", "1012", "2011", "1021", // 2520
	"2021", "2012", "1022", "2022", "0111", "0112", "0211", "0212",
	"0121", "0122", "0221", "0222", "1101", "1102", "1201", "1202", // 2530
	"2101", "2102", "2201", "2202", "1111", "1112", "1211", "1212",
	"2111", "1121", "2121", "2112", "2211", "1122", "1221", "2212", // 2540
	"1222", "2122", "2221", "2222", "0101", "0202", "1010", "2020",
	"0303", "3030", "0310", "0130", "0330", "0013", "0031", "0033", // 2550
	"1300", "3100", "3300", "1003", "3001", "3003", "1310", "3130",
	"3330", "1013", "3031", "3033", "0313", "0131", "0333", "1303", // 2560
	"3101", "3303", "1313", "3131", "3333", "0110", "0011", "1001",
	"1100", "x", "x", "x", "0001", "1000", "0100", "0010", // 2570
	"0002", "2000", "0200", "0020", "0201", "1020", "0102", "2010",
}

var quadrants = [10]uint8{4, 8, 1, 1 | 4 | 8, 1 | 8, 1 | 2 | 4, 1 | 2 | 8, 2, 2 | 4, 2 | 4 | 8}

// drawProcedural draws box drawing, block element and braille runes
// geometrically so they join across cells. It reports whether r was one of
// them.
func drawProcedural(dst *image.RGBA, rect image.Rectangle, r rune, fg color.RGBA) bool {
	switch {
	case r >= 0x2500 && r <= 0x257f:
		drawBox(dst, rect, r, fg)
	case r >= 0x2580 && r <= 0x259f:
		drawBlock(dst, rect, r, fg)
	case r >= 0x2800 && r <= 0x28ff:
		drawBraille(dst, rect, r, fg)
	default:
		return false
	}
	return true
}

func drawBox(dst *image.RGBA, rect image.Rectangle, r rune, fg color.RGBA) {
	w, h := rect.Dx(), rect.Dy()
	cx, cy := w/2-1, h/2-1
	set := func(x0, y0, x1, y1 int) {
		fill(dst, image.Rect(rect.Min.X+x0, rect.Min.Y+y0, rect.Min.X+x1, rect.Min.Y+y1), fg)
	}

	weights := boxWeights[r-0x2500]
	if weights == "x" {
		for y := 0; y < h; y++ {
			x := y * w / h
			if r == 0x2571 || r == 0x2573 {
				set(w-1-x, y, w-x, y+1)
			}
			if r == 0x2572 || r == 0x2573 {
				set(x, y, x+1, y+1)
			}
		}
		return
	}

	// Bands perpendicular to the stroke, as [from, to) offsets.
	bands := func(weight byte, center int) [][2]int {
		switch weight {
		case '1':
			return [][2]int{{center, center + 1}}
		case '2':
			return [][2]int{{center, center + 2}}
		case '3':
			return [][2]int{{center - 1, center}, {center + 1, center + 2}}
		}
		return nil
	}
	for dir := 0; dir < 4; dir++ {
		weight := weights[dir]
		if weight == '0' {
			continue
		}
		switch dir {
		case 0: // up
			for _, b := range bands(weight, cx) {
				set(b[0], 0, b[1], cy+2)
			}
		case 1: // right
			for _, b := range bands(weight, cy) {
				set(cx-1, b[0], w, b[1])
			}
		case 2: // down
			for _, b := range bands(weight, cx) {
				set(b[0], cy-1, b[1], h)
			}
		case 3: // left
			for _, b := range bands(weight, cy) {
				set(0, b[0], cx+2, b[1])
			}
		}
	}
}

func drawBlock(dst *image.RGBA, rect image.Rectangle, r rune, fg color.RGBA) {
	w, h := rect.Dx(), rect.Dy()
	set := func(x0, y0, x1, y1 int) {
		fill(dst, image.Rect(rect.Min.X+x0, rect.Min.Y+y0, rect.Min.X+x1, rect.Min.Y+y1), fg)
	}

	switch {
	case r == 0x2580:
		set(0, 0, w, h/2)
	case r >= 0x2581 && r <= 0x2588:
		n := int(r - 0x2580)
		set(0, h-n*h/8, w, h)
	case r >= 0x2589 && r <= 0x258f:
		n := int(0x2590 - r)
		set(0, 0, n*w/8, h)
	case r == 0x2590:
		set(w/2, 0, w, h)
	case r >= 0x2591 && r <= 0x2593:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var on bool
				switch r {
				case 0x2591:
					on = x%2 == 0 && y%2 == 0
				case 0x2592:
					on = (x+y)%2 == 0
				default:
					on = !(x%2 == 0 && y%2 == 0)
				}
				if on {
					set(x, y, x+1, y+1)
				}
			}
		}
	case r == 0x2594:
		set(0, 0, w, h/8)
	case r == 0x2595:
		set(w-w/8, 0, w, h)
	default:
		q := quadrants[r-0x2596]
		if q&1 != 0 {
			set(0, 0, w/2, h/2)
		}
		if q&2 != 0 {
			set(w/2, 0, w, h/2)
		}
		if q&4 != 0 {
			set(0, h/2, w/2, h)
		}
		if q&8 != 0 {
			set(w/2, h/2, w, h)
		}
	}
}

// Braille dot bits in cell order: column, row.
var brailleDots = [8][2]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}, {0, 3}, {1, 3}}

func drawBraille(dst *image.RGBA, rect image.Rectangle, r rune, fg color.RGBA) {
	w, h := rect.Dx(), rect.Dy()
	bits := int(r - 0x2800)
	for i, d := range brailleDots {
		if bits&(1<<i) == 0 {
			continue
		}
		x := rect.Min.X + d[0]*w/2 + w/8
		y := rect.Min.Y + d[1]*h/4 + h/16
		fill(dst, image.Rect(x, y, x+w/4, y+h/8), fg)
	}
}
