// Package ui holds the terminal helpers shared by the command line tools.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/CK6170/Rotorbalance-go/balance"
)

// Out is where the printers write.
var Out io.Writer = os.Stdout

var (
	debugStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	greenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cellStyle  = lipgloss.NewStyle().PaddingRight(2)
)

func Debugf(enabled bool, format string, a ...interface{}) {
	if enabled {
		fmt.Fprint(Out, debugStyle.Render(fmt.Sprintf("[DEBUG] "+format, a...)))
	}
}

func Greenf(format string, a ...interface{}) {
	fmt.Fprint(Out, greenStyle.Render(fmt.Sprintf(format, a...)))
}

func Warningf(format string, a ...interface{}) {
	fmt.Fprint(Out, warnStyle.Render(fmt.Sprintf(format, a...)))
}

func Failf(format string, a ...interface{}) {
	fmt.Fprint(Out, errStyle.Render(fmt.Sprintf(format, a...)))
}

func ClearScreen() {
	fmt.Fprint(Out, "\033[2J\033[1;1H")
}

// PlaneTable renders both corrections as aligned columns.
func PlaneTable(planes [2]balance.PlaneCorrection) string {
	col := func(cells ...string) string {
		out := make([]string, len(cells))
		for i, c := range cells {
			out[i] = cellStyle.Render(c)
		}
		return lipgloss.JoinVertical(lipgloss.Left, out...)
	}
	names := []string{headStyle.Render("Plane")}
	masses := []string{headStyle.Render("Mass (g)")}
	angles := []string{headStyle.Render("Angle (°)")}
	radii := []string{headStyle.Render("Radius (mm)")}
	for _, p := range planes {
		names = append(names, fmt.Sprintf("%d", p.Plane))
		masses = append(masses, fmt.Sprintf("%.2f", p.MassG))
		angles = append(angles, fmt.Sprintf("%.1f", p.AngleDeg))
		radii = append(radii, fmt.Sprintf("%.1f", p.RadiusM*1000))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, col(names...), col(masses...), col(angles...), col(radii...))
}

// Sparkline draws ys as a one-line bar chart, width characters wide.
func Sparkline(ys []float64, width int) string {
	if len(ys) == 0 || width <= 0 {
		return ""
	}
	bars := []rune("▁▂▃▄▅▆▇█")
	lo, hi := ys[0], ys[0]
	for _, y := range ys {
		lo = min(lo, y)
		hi = max(hi, y)
	}
	var b strings.Builder
	for i := 0; i < width; i++ {
		y := ys[i*len(ys)/width]
		k := 0
		if hi > lo {
			k = int((y - lo) / (hi - lo) * float64(len(bars)-1))
		}
		b.WriteRune(bars[k])
	}
	return b.String()
}
