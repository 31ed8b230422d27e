package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/elliotchance/pie/v2"

	"github.com/comigor/floatchat-go/internal/agent"
	"github.com/comigor/floatchat-go/internal/history"
	"github.com/comigor/floatchat-go/internal/visualization"
)

const barWidth = 24

// Palette is the set of styles used by the terminal client.
type Palette struct {
	Prompt    lipgloss.Style
	Title     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Muted     lipgloss.Style
	Active    lipgloss.Style
	Info      lipgloss.Style
	Error     lipgloss.Style
	Bar       lipgloss.Style
}

// NewPalette builds styles for out. With color disabled every style renders
// plain text.
func NewPalette(out io.Writer, color bool) Palette {
	if !color {
		out = io.Discard
	}
	r := lipgloss.NewRenderer(out)

	return Palette{
		Prompt:    r.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		Title:     r.NewStyle().Foreground(lipgloss.Color("75")).Bold(true).Underline(true),
		User:      r.NewStyle().Foreground(lipgloss.Color("81")).Bold(true),
		Assistant: r.NewStyle().Foreground(lipgloss.Color("141")).Bold(true),
		Muted:     r.NewStyle().Foreground(lipgloss.Color("245")),
		Active:    r.NewStyle().Foreground(lipgloss.Color("48")).Bold(true),
		Info:      r.NewStyle().Foreground(lipgloss.Color("250")),
		Error:     r.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		Bar:       r.NewStyle().Foreground(lipgloss.Color("33")),
	}
}

// RenderConversations lists the history panel, most recent first.
func (p Palette) RenderConversations(st agent.State) string {
	var b strings.Builder
	b.WriteString(p.Title.Render("Chat History") + "\n")
	if len(st.Conversations) == 0 {
		b.WriteString(p.Muted.Render("  No conversations yet.") + "\n")
		return b.String()
	}
	for i, c := range st.Conversations {
		marker := "  "
		title := c.Title
		if c.ID == st.ActiveConversationID {
			marker = p.Active.Render("> ")
			title = p.Active.Render(title)
		}
		fmt.Fprintf(&b, "%s%2d. %s\n", marker, i+1, title)
		fmt.Fprintf(&b, "      %s\n", p.Muted.Render(c.LastMessage))
	}
	return b.String()
}

// RenderMessage prints one chat bubble.
func (p Palette) RenderMessage(m history.Message) string {
	who := p.Assistant.Render("FloatChat")
	if m.Role == history.RoleUser {
		who = p.User.Render("You")
	}
	line := fmt.Sprintf("%s: %s", who, m.Content)
	if m.Visualization != nil && m.Visualization.Renderable() {
		line += " " + p.Muted.Render("[visualization]")
	}
	return line + "\n"
}

// RenderMessages prints the chat panel.
func (p Palette) RenderMessages(st agent.State, examples []string) string {
	if len(st.Messages) == 0 {
		return p.RenderExamples(examples)
	}
	return strings.Join(pie.Map(st.Messages, p.RenderMessage), "")
}

// RenderExamples prints the starter questions shown on an empty chat.
func (p Palette) RenderExamples(examples []string) string {
	var b strings.Builder
	b.WriteString(p.Title.Render("Ask about ocean data") + "\n")
	for i, q := range examples {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, q)
	}
	b.WriteString(p.Muted.Render("  Use /example <n> or type your own question.") + "\n")
	return b.String()
}

// RenderVisualization prints the float locations and every chart series.
func (p Palette) RenderVisualization(v *visualization.Visualization) string {
	var b strings.Builder
	b.WriteString(p.Title.Render("Visualization") + "\n")
	if v == nil {
		b.WriteString(p.Muted.Render("  Ask a question to see float data here.") + "\n")
		return b.String()
	}

	if v.Summary != "" {
		b.WriteString(p.Info.Render(v.Summary) + "\n")
	}

	if len(v.MapPoints) > 0 {
		b.WriteString("\n" + p.Assistant.Render("Float locations") + "\n")
		fmt.Fprintf(&b, "  %-14s %9s %10s %8s\n", "ID", "LAT", "LNG", "TEMP")
		for _, pt := range v.MapPoints {
			temp := "-"
			if pt.Temp != nil {
				temp = fmt.Sprintf("%.2f", *pt.Temp)
			}
			fmt.Fprintf(&b, "  %-14s %9.3f %10.3f %8s\n", pt.ID, pt.Lat, pt.Lng, temp)
		}
	}

	if c := v.ChartData; c != nil {
		b.WriteString("\n" + p.Assistant.Render("Chart") + "\n")
		if c.XAxisLabel != "" || c.YAxisLabel != "" {
			fmt.Fprintf(&b, "  %s\n", p.Muted.Render(fmt.Sprintf("x: %s  y: %s", orDash(c.XAxisLabel), orDash(c.YAxisLabel))))
		}
		for _, ds := range c.Datasets {
			b.WriteString(p.renderSeries(c.Labels, ds))
		}
	}
	return b.String()
}

func (p Palette) renderSeries(labels []string, ds visualization.Dataset) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %s\n", p.Info.Render(ds.Label))
	if len(ds.Data) == 0 {
		return b.String()
	}

	lo, hi := pie.Min(ds.Data), pie.Max(ds.Data)
	for i, val := range ds.Data {
		label := fmt.Sprintf("#%d", i+1)
		if i < len(labels) {
			label = labels[i]
		}
		n := barWidth
		if hi > lo {
			n = 1 + int((val-lo)/(hi-lo)*float64(barWidth-1))
		}
		fmt.Fprintf(&b, "  %10s │%s %g\n", label, p.Bar.Render(strings.Repeat("█", n)), val)
	}
	return b.String()
}

// RenderNotice prints a toast.
func (p Palette) RenderNotice(n agent.Notice) string {
	style := p.Active
	if n.Destructive {
		style = p.Error
	}
	return fmt.Sprintf("%s %s\n", style.Render(n.Title), p.Muted.Render(n.Description))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
