package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/srediag/ipcdemo/pkg/event"
	"github.com/srediag/ipcdemo/pkg/transport"
)

// pipeSources maps the pipe data sources to the labels the pipe log uses instead of DATA.
var pipeSources = map[string]string{
	"parent -> child":        "PARENT -> CHILD",
	"child -> parent (echo)": "CHILD -> PARENT (ECHO)",
}

// Renderer prints events as human readable log lines:
//
//	[15:04:05] (PID: 42) STATUS: Setting up pipes...
//	[15:04:05] (PID: 42) DATA: "hello" (from parent_write)
type Renderer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time

	timeStyle   lipgloss.Style
	pidStyle    lipgloss.Style
	statusStyle lipgloss.Style
	dataStyle   lipgloss.Style
	errorStyle  lipgloss.Style
	rawStyle    lipgloss.Style
}

// NewRenderer returns a Renderer writing to out. Colors are only used when out is a
// terminal that supports them.
func NewRenderer(out io.Writer) *Renderer {
	r := lipgloss.NewRenderer(out)
	return &Renderer{
		out:         out,
		now:         time.Now,
		timeStyle:   r.NewStyle().Foreground(lipgloss.Color("241")),
		pidStyle:    r.NewStyle().Foreground(lipgloss.Color("12")),
		statusStyle: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		dataStyle:   r.NewStyle().Foreground(lipgloss.Color("14")),
		errorStyle:  r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		rawStyle:    r.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// Line formats e without a trailing newline.
func (r *Renderer) Line(e event.Event) string {
	var b strings.Builder
	b.WriteString(r.timeStyle.Render("[" + r.now().Format("15:04:05") + "]"))
	if e.PID > 0 {
		b.WriteString(" ")
		b.WriteString(r.pidStyle.Render(fmt.Sprintf("(PID: %d)", e.PID)))
	}
	b.WriteString(" ")

	switch e.Kind {
	case event.KindStatus:
		b.WriteString(r.statusStyle.Render("STATUS:"))
		b.WriteString(" " + e.Message)
	case event.KindData:
		if label, ok := pipeSources[e.Source]; ok && e.Module == transport.ModulePipes {
			b.WriteString(r.dataStyle.Render(label + ":"))
			b.WriteString(" " + e.Data)
			break
		}
		source := e.Source
		if source == "" {
			source = "N/A"
		}
		b.WriteString(r.dataStyle.Render("DATA:"))
		b.WriteString(fmt.Sprintf(" \"%s\" (from %s)", e.Data, source))
	case event.KindError:
		msg := e.Error
		if msg == "" {
			msg = "unknown error"
		}
		b.WriteString(r.errorStyle.Render("ERROR:"))
		b.WriteString(" " + msg)
	default:
		b.WriteString(r.rawStyle.Render("RAW:"))
		b.WriteString(" " + e.Data)
	}
	return b.String()
}

// Render writes one line for e. It is safe for concurrent use and can be passed as an
// api.EventCallback.
func (r *Renderer) Render(e event.Event) {
	line := r.Line(e)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.out, line)
}
