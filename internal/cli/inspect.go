package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/session"
	"github.com/matzehuels/storyline/pkg/storyline"
)

// List styles
var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listNormalStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
	listMarkedStyle   = lipgloss.NewStyle().Foreground(colorGreen)
)

// inspectCommand creates the interactive inspect command.
func (c *CLI) inspectCommand() *cobra.Command {
	var (
		q       string
		field   string
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "inspect [result.json|result.yaml]",
		Short: "Explore a storyline interactively",
		Long: `Explore a storyline interactively.

With a result file every query is answered from that file. Without one the
configured search backend is asked, and --query is required.

Select cluster nodes to derive the reference-point constraint other widgets
would see, or toggle entities in and out of the query.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var src query.Source
			if len(args) == 1 {
				res, err := loadResult(args[0])
				if err != nil {
					return err
				}
				if q == "" {
					if q, err = allEntitiesQuery(res); err != nil {
						return err
					}
				}
				src = query.StaticSource{Result: res}
			} else {
				if q == "" {
					return fmt.Errorf("--query is required without a result file")
				}
				hs, err := c.newSource(0)
				if err != nil {
					return err
				}
				src = hs
			}

			runner, err := c.newRunner(ctx, noCache)
			if err != nil {
				return fmt.Errorf("initialize runner: %w", err)
			}
			defer runner.Close()

			var prog *tea.Program
			lopts := c.Config.LayoutOptions()
			lopts.Logger = c.Logger
			sess := session.New(src, runner, session.Options{
				ClusterField: c.Config.Query.ClusterField,
				Layout:       lopts,
				Logger:       c.Logger,
				Renderer: session.RendererFunc(func(ctx context.Context, f session.Frame) error {
					go prog.Send(frameMsg{frame: f})
					return nil
				}),
			})
			defer sess.Close()

			prog = tea.NewProgram(newInspectModel(sess), tea.WithContext(ctx), tea.WithOutput(os.Stderr))
			sess.SetEntities(query.Parse(q), field)
			_, err = prog.Run()
			return err
		},
	}

	cmd.Flags().StringVarP(&q, "query", "q", "", "initial selection (default: every entity of the result file)")
	cmd.Flags().StringVar(&field, "field", "", "treat every query token as a value of this field")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching")
	return cmd
}

func loadResult(path string) (*query.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	res, err := query.DecodeResult(data, query.FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", path, err)
	}
	if res.Failed() {
		return nil, res.Err()
	}
	return res, nil
}

// allEntitiesQuery builds a manual query naming every entity of a result.
func allEntitiesQuery(res *query.Result) (string, error) {
	es, err := storyline.ExtractEntities(res.Timeline)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(es.All))
	for i, e := range es.All {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", "), nil
}

// =============================================================================
// inspectModel - Interactive storyline explorer
// =============================================================================

type inspectPane int

const (
	paneNodes inspectPane = iota
	paneEntities
)

type (
	frameMsg struct{ frame session.Frame }
	tickMsg  time.Time
)

const inspectRefresh = 250 * time.Millisecond

// inspectModel is the bubbletea model for the inspect command. It keeps a
// snapshot of the session and re-reads it after every action, since fetches
// complete in the background.
type inspectModel struct {
	sess     *session.Session
	snap     session.Snapshot
	revision uint64
	pane     inspectPane
	cursor   int
	offset   int
	height   int
	err      error
}

func newInspectModel(sess *session.Session) inspectModel {
	return inspectModel{sess: sess, snap: sess.Snapshot(), height: 15}
}

func tick() tea.Cmd {
	return tea.Tick(inspectRefresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m inspectModel) Init() tea.Cmd {
	return tick()
}

func (m inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "tab":
			m.pane = 1 - m.pane
			m.cursor, m.offset = 0, 0
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.offset {
					m.offset = m.cursor
				}
			}
		case "down", "j":
			if m.cursor < m.rowCount()-1 {
				m.cursor++
				if m.cursor >= m.offset+m.height {
					m.offset = m.cursor - m.height + 1
				}
			}
		case " ", "enter":
			m.err = m.toggle()
		case "c":
			m.sess.ConstraintCleared()
			m.err = nil
		}
		m.refresh()
	case frameMsg:
		if msg.frame.Revision > m.revision {
			m.revision = msg.frame.Revision
		}
		m.refresh()
	case tickMsg:
		m.refresh()
		return m, tick()
	case tea.WindowSizeMsg:
		m.height = max(msg.Height-10, 5)
	}
	return m, nil
}

func (m *inspectModel) refresh() {
	m.snap = m.sess.Snapshot()
	if n := m.rowCount(); m.cursor >= n {
		m.cursor = max(n-1, 0)
		m.offset = min(m.offset, m.cursor)
	}
}

func (m inspectModel) nodes() []*storyline.VisNode {
	if m.snap.Layout == nil {
		return nil
	}
	return m.snap.Layout.NodesForClusters()
}

func (m inspectModel) rowCount() int {
	if m.snap.Layout == nil {
		return 0
	}
	if m.pane == paneEntities {
		return len(m.snap.Layout.Entities.All)
	}
	return len(m.nodes())
}

func (m inspectModel) toggle() error {
	if m.cursor >= m.rowCount() {
		return nil
	}
	if m.pane == paneEntities {
		return m.sess.ToggleEntity(m.cursor)
	}
	return m.sess.ToggleNode(m.nodes()[m.cursor].Cluster.Key)
}

func (m inspectModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Storyline"))
	b.WriteString("  ")
	b.WriteString(listDimStyle.Render(m.snap.State.String()))
	if m.snap.Loading {
		b.WriteString(listDimStyle.Render("  loading..."))
	}
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  ␣ toggle  tab switch  c clear  q quit"))
	b.WriteString("\n\n")

	if m.snap.Err != nil {
		b.WriteString(styleIconError.Render(iconError + " " + m.snap.Err.Error()))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(styleIconWarning.Render(iconWarning + " " + m.err.Error()))
		b.WriteString("\n")
	}
	if m.snap.Status != "" {
		b.WriteString(StyleValue.Render(m.snap.Status))
		b.WriteString("\n")
	}

	l := m.snap.Layout
	switch {
	case m.snap.State == session.StateIdle:
		b.WriteString(listDimStyle.Render("No entities selected."))
		b.WriteString("\n")
		return b.String()
	case l == nil:
		return b.String()
	case l.Empty():
		b.WriteString(listDimStyle.Render(session.NoMatches))
		b.WriteString("\n")
		return b.String()
	}

	if m.pane == paneEntities {
		b.WriteString(StyleHighlight.Render("Entities"))
		b.WriteString(listDimStyle.Render(" / nodes"))
	} else {
		b.WriteString(listDimStyle.Render("entities / "))
		b.WriteString(StyleHighlight.Render("Nodes"))
	}
	b.WriteString("\n")

	end := min(m.offset+m.height, m.rowCount())
	for i := m.offset; i < end; i++ {
		label, marked := m.row(i)
		cursor := "  "
		style := listNormalStyle
		if i == m.cursor {
			cursor = "▸ "
			style = listSelectedStyle
		}
		mark := "  "
		if marked {
			mark = listMarkedStyle.Render(iconSuccess + " ")
		}
		b.WriteString(cursor + mark + style.Render(label))
		b.WriteString("\n")
	}
	if end < m.rowCount() {
		b.WriteString(listDimStyle.Render(fmt.Sprintf("  … %d more", m.rowCount()-end)))
		b.WriteString("\n")
	}

	if c := m.snap.Constraint; c != nil {
		b.WriteString("\n")
		b.WriteString(listDimStyle.Render(fmt.Sprintf("constraint: %s %v", c.Name, c.Points)))
		b.WriteString("\n")
	}
	return b.String()
}

// row returns the label of row i and whether it is part of the selection.
func (m inspectModel) row(i int) (string, bool) {
	l := m.snap.Layout
	if m.pane == paneEntities {
		e := l.Entities.All[i]
		selected := slices.ContainsFunc(m.snap.Refs, func(r query.Ref) bool {
			return r.HasValue && r.Value == e.Value && (r.Field == e.Field || r.Field == "")
		})
		title := e.Value
		if m.snap.View.UseFieldPrefixes() {
			title = e.String()
		}
		return title, selected
	}
	n := m.nodes()[i]
	names := make([]string, 0, len(n.EntityIDs))
	for _, id := range n.EntityIDs {
		if e, ok := l.LookupEntity(id); ok {
			names = append(names, e.Value)
		}
	}
	label := fmt.Sprintf("%d  %s", n.Time, strings.Join(names, ", "))
	return label, slices.Contains(m.snap.SelectedNodes, n.Cluster.Key)
}
