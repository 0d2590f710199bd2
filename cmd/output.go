package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))  // dark green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))   // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))  // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))  // blue
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))  // cyan
	debugStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250")) // light grey
)

var styleSymbols = map[string]string{
	"pass":   "✓",
	"fail":   "✗",
	"bullet": "•",
	"hline":  "━",
}

func printSuccess(text string) {
	fmt.Println(successStyle.Render(styleSymbols["pass"] + " " + text))
}

func printError(text string) {
	fmt.Println(errorStyle.Render(styleSymbols["fail"] + " " + text))
}

func printWarning(text string) {
	fmt.Println(warningStyle.Render(text))
}

func printInfo(text string) {
	fmt.Println(infoStyle.Render(text))
}

func printPending(text string) {
	fmt.Println(pendingStyle.Render(text))
}

func progressBar(percent float64, width int) string {
	if width <= 0 {
		width = 30
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	bar := styleSymbols["bullet"]
	bar += strings.Repeat(styleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += styleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%%", bar, percent))
}
