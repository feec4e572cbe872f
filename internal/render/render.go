// Package render rasterizes emulator snapshots. Rendering is pure: the
// same snapshot and options always produce the same pixels.
package render

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"

	"github.com/cboone/termsnap/internal/vt"
)

// Base glyph cell size in pixels, before scaling.
const (
	BaseCellWidth  = 8
	BaseCellHeight = 16

	DefaultScale = 2
)

var (
	DefaultForeground = color.RGBA{255, 255, 255, 0xff}
	DefaultBackground = color.RGBA{0, 0, 0, 0xff}
)

// Renderer turns snapshots into images.
type Renderer struct {
	scale   int
	palette Palette
	fg, bg  color.RGBA
	regular font.Face
	bold    font.Face
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithScale sets the integer pixel scale. Values below 1 are ignored.
func WithScale(n int) Option {
	return func(r *Renderer) {
		if n >= 1 {
			r.scale = n
		}
	}
}

// WithPalette replaces the indexed color palette.
func WithPalette(p Palette) Option {
	return func(r *Renderer) {
		r.palette = p
	}
}

// WithDefaultColors sets the colors used for cells with default fg or bg.
func WithDefaultColors(fg, bg color.RGBA) Option {
	return func(r *Renderer) {
		r.fg, r.bg = fg, bg
	}
}

// WithFaces replaces the regular and bold font faces. Glyphs are clipped to
// the 8x16 base cell.
func WithFaces(regular, bold font.Face) Option {
	return func(r *Renderer) {
		if regular != nil {
			r.regular = regular
		}
		if bold != nil {
			r.bold = bold
		}
	}
}

// New returns a renderer with the default palette, colors and faces.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		scale:   DefaultScale,
		palette: DefaultPalette(),
		fg:      DefaultForeground,
		bg:      DefaultBackground,
		regular: inconsolata.Regular8x16,
		bold:    inconsolata.Bold8x16,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CellSize returns the size of one cell in output pixels.
func (r *Renderer) CellSize() (w, h int) {
	return BaseCellWidth * r.scale, BaseCellHeight * r.scale
}

// Resolve converts a cell color to a pixel color.
func (r *Renderer) Resolve(c vt.Color, foreground bool) color.RGBA {
	switch c.Kind {
	case vt.ColorIndexed:
		return r.palette[c.Index]
	case vt.ColorRGB:
		return color.RGBA{c.R, c.G, c.B, 0xff}
	}
	if foreground {
		return r.fg
	}
	return r.bg
}

func (r *Renderer) cellColors(c vt.Cell) (fg, bg color.RGBA) {
	fc := c.FG
	if c.Attr.Has(vt.AttrBold) && fc.Kind == vt.ColorIndexed && fc.Index < 8 {
		fc = vt.Indexed(fc.Index + 8)
	}
	fg = r.Resolve(fc, true)
	bg = r.Resolve(c.BG, false)
	if c.Attr.Has(vt.AttrInverse) {
		fg, bg = bg, fg
	}
	return fg, bg
}

// Render draws s. The result is exactly Cols*cellW by Rows*cellH pixels.
func (r *Renderer) Render(s vt.Snapshot) *image.RGBA {
	rows, cols := s.Rows(), s.Cols()
	base := image.NewRGBA(image.Rect(0, 0, cols*BaseCellWidth, rows*BaseCellHeight))

	cur := s.Cursor()
	block := cur.Visible && cur.Shape == vt.ShapeBlock
	colors := func(row, col int) (fg, bg color.RGBA) {
		fg, bg = r.cellColors(s.Cell(row, col))
		if block && row == cur.Row && col == cur.Col {
			fg, bg = bg, fg
		}
		return fg, bg
	}

	// Backgrounds first: a wide glyph spills into its continuation cell.
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			_, bg := colors(row, col)
			fill(base, cellRect(row, col, 1), bg)
		}
	}

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			c := s.Cell(row, col)
			if c.Cont {
				continue
			}
			fg, _ := colors(row, col)
			width := 1
			if col+1 < cols && s.Cell(row, col+1).Cont {
				width = 2
			}
			rect := cellRect(row, col, width)
			r.drawGlyph(base, rect, c, fg)
			if c.Attr.Has(vt.AttrUnderline) {
				fill(base, image.Rect(rect.Min.X, rect.Max.Y-1, rect.Max.X, rect.Max.Y), fg)
			}
			if c.Attr.Has(vt.AttrStrike) {
				mid := rect.Min.Y + BaseCellHeight/2
				fill(base, image.Rect(rect.Min.X, mid, rect.Max.X, mid+1), fg)
			}
		}
	}

	if cur.Visible && cur.Row < rows && cur.Col < cols {
		fg, _ := colors(cur.Row, cur.Col)
		rect := cellRect(cur.Row, cur.Col, 1)
		switch cur.Shape {
		case vt.ShapeUnderline:
			fill(base, image.Rect(rect.Min.X, rect.Max.Y-2, rect.Max.X, rect.Max.Y), fg)
		case vt.ShapeBar:
			fill(base, image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+1, rect.Max.Y), fg)
		}
	}

	if r.scale == 1 {
		return base
	}
	out := image.NewRGBA(image.Rect(0, 0, base.Rect.Dx()*r.scale, base.Rect.Dy()*r.scale))
	xdraw.NearestNeighbor.Scale(out, out.Rect, base, base.Rect, xdraw.Src, nil)
	return out
}

func cellRect(row, col, width int) image.Rectangle {
	x, y := col*BaseCellWidth, row*BaseCellHeight
	return image.Rect(x, y, x+width*BaseCellWidth, y+BaseCellHeight)
}

func fill(dst *image.RGBA, rect image.Rectangle, c color.RGBA) {
	draw.Draw(dst, rect, image.NewUniform(c), image.Point{}, draw.Src)
}

func (r *Renderer) drawGlyph(dst *image.RGBA, rect image.Rectangle, c vt.Cell, fg color.RGBA) {
	if c.Rune == ' ' || c.Rune == 0 {
		return
	}
	if drawProcedural(dst, rect, c.Rune, fg) {
		return
	}

	face := r.regular
	if c.Attr.Has(vt.AttrBold) {
		face = r.bold
	}
	ascent := face.Metrics().Ascent.Round()
	dot := fixed.P(rect.Min.X, rect.Min.Y+ascent)
	dr, mask, maskp, _, ok := face.Glyph(dot, c.Rune)
	if !ok || mask == nil {
		drawTofu(dst, rect, fg)
		return
	}
	clipped := dr.Intersect(rect)
	if clipped.Empty() {
		return
	}
	maskp = maskp.Add(clipped.Min.Sub(dr.Min))
	draw.DrawMask(dst, clipped, image.NewUniform(fg), image.Point{}, mask, maskp, draw.Over)
}

func drawTofu(dst *image.RGBA, rect image.Rectangle, fg color.RGBA) {
	in := image.Rect(rect.Min.X+1, rect.Min.Y+2, rect.Max.X-1, rect.Max.Y-2)
	fill(dst, image.Rect(in.Min.X, in.Min.Y, in.Max.X, in.Min.Y+1), fg)
	fill(dst, image.Rect(in.Min.X, in.Max.Y-1, in.Max.X, in.Max.Y), fg)
	fill(dst, image.Rect(in.Min.X, in.Min.Y, in.Min.X+1, in.Max.Y), fg)
	fill(dst, image.Rect(in.Max.X-1, in.Min.Y, in.Max.X, in.Max.Y), fg)
}
