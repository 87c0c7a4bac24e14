package runtime

import (
	"encoding/base64"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
)

const (
	figureWidth  = 640
	figureHeight = 480
	figureMargin = 40
)

// figureBuf accumulates plotted series until plot.show() renders them.
// At most one figure is open at a time; reset closes it without rendering.
type figureBuf struct {
	title  string
	series []plotSeries
}

type plotSeries struct {
	xs, ys []float64
	label  string
}

func (f *figureBuf) empty() bool {
	return len(f.series) == 0
}

// render produces the base64-encoded image payload for the figure.
func (f *figureBuf) render() string {
	var minX, maxX, minY, maxY float64
	first := true
	for _, s := range f.series {
		if len(s.xs) == 0 {
			continue
		}
		if first {
			minX, maxX = floats.Min(s.xs), floats.Max(s.xs)
			minY, maxY = floats.Min(s.ys), floats.Max(s.ys)
			first = false
			continue
		}
		minX = min(minX, floats.Min(s.xs))
		maxX = max(maxX, floats.Max(s.xs))
		minY = min(minY, floats.Min(s.ys))
		maxY = max(maxY, floats.Max(s.ys))
	}
	if maxX == minX {
		maxX = minX + 1
	}
	if maxY == minY {
		maxY = minY + 1
	}

	plotW := float64(figureWidth - 2*figureMargin)
	plotH := float64(figureHeight - 2*figureMargin)
	toX := func(x float64) float64 {
		return figureMargin + (x-minX)/(maxX-minX)*plotW
	}
	toY := func(y float64) float64 {
		// SVG y axis grows downward
		return figureMargin + (1-(y-minY)/(maxY-minY))*plotH
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`,
		figureWidth, figureHeight)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="white"/>`, figureWidth, figureHeight)
	if f.title != "" {
		fmt.Fprintf(&b, `<text x="%d" y="24" text-anchor="middle" font-size="16">%s</text>`,
			figureWidth/2, escapeXML(f.title))
	}

	colors := []string{"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd"}
	for i, s := range f.series {
		var pts strings.Builder
		for j := range s.xs {
			if j > 0 {
				pts.WriteByte(' ')
			}
			fmt.Fprintf(&pts, "%.2f,%.2f", toX(s.xs[j]), toY(s.ys[j]))
		}
		fmt.Fprintf(&b, `<polyline fill="none" stroke="%s" stroke-width="1.5" points="%s"/>`,
			colors[i%len(colors)], pts.String())
	}
	b.WriteString(`</svg>`)

	return base64.StdEncoding.EncodeToString([]byte(b.String()))
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
