package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fd1az/global-price-index/business/index/domain"
)

// refreshInterval is how often the dashboard re-aggregates.
const refreshInterval = time.Second

// FetchFunc produces a fresh aggregation result.
type FetchFunc func(ctx context.Context) (*domain.PriceData, error)

// StateFunc reports the Binance stream state.
type StateFunc func() string

// Model is the main Bubble Tea model for the dashboard.
type Model struct {
	fetch  FetchFunc
	stream StateFunc

	keys    KeyMap
	spinner spinner.Model

	data        *domain.PriceData
	streamState string
	lastErr     error
	lastUpdate  time.Time

	paused   bool
	quitting bool
	width    int
}

// New creates a new dashboard model.
func New(fetch FetchFunc, stream StateFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	return Model{
		fetch:       fetch,
		stream:      stream,
		keys:        DefaultKeyMap(),
		spinner:     sp,
		streamState: "connecting",
	}
}

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick(), m.refresh())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}

func (m Model) refresh() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshInterval*5)
		defer cancel()

		data, err := fetch(ctx)
		if err != nil {
			return PriceErrorMsg{Error: err}
		}
		return PriceUpdateMsg{Data: data}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case TickMsg:
		m.streamState = m.stream()
		cmds := []tea.Cmd{m.tick()}
		if !m.paused {
			cmds = append(cmds, m.refresh())
		}
		return m, tea.Batch(cmds...)

	case PriceUpdateMsg:
		m.data = msg.Data
		m.lastErr = nil
		m.lastUpdate = time.Now()

	case PriceErrorMsg:
		m.lastErr = msg.Error
		m.lastUpdate = time.Now()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(TitleStyle.Render("BTC/USDT GLOBAL PRICE INDEX"))
	b.WriteString("\n\n")

	b.WriteString(m.renderIndex())
	b.WriteString("\n")
	b.WriteString(m.renderExchanges())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")

	help := "q quit • p pause"
	if m.paused {
		help = "q quit • p resume (paused)"
	}
	b.WriteString(HelpStyle.Render(help))

	return b.String()
}

func (m Model) renderIndex() string {
	if m.data == nil {
		if m.lastErr != nil {
			return BoxStyle.Render(StatusDown.Render("index unavailable") +
				MutedStyle.Render("  (all exchanges failing)"))
		}
		return BoxStyle.Render(m.spinner.View() + " waiting for first aggregation...")
	}

	line := fmt.Sprintf("%s  %s",
		IndexStyle.Render(fmt.Sprintf("$%.2f", m.data.Price)),
		MutedStyle.Render(fmt.Sprintf("across %d exchanges", len(m.data.ExchangePrices))))

	if m.lastErr != nil {
		line += "\n" + StatusDegraded.Render("last refresh failed") +
			MutedStyle.Render(" (showing previous value)")
	}

	return BoxStyle.Render(line)
}

func (m Model) renderExchanges() string {
	if m.data == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("EXCHANGES"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %-10s  %14s  %10s\n", "Exchange", "Mid", "Age"))
	b.WriteString(MutedStyle.Render("  "+strings.Repeat("─", 40)) + "\n")

	now := domain.UnixSeconds(time.Now())
	for _, p := range m.data.ExchangePrices {
		age := now - p.Timestamp
		if age < 0 {
			age = 0
		}
		b.WriteString(fmt.Sprintf("  %-10s  %14s  %9.1fs\n",
			p.Exchange,
			fmt.Sprintf("$%.2f", p.MidPrice),
			age))
	}

	return BoxStyle.Render(b.String())
}

func (m Model) renderStatus() string {
	var state string
	switch m.streamState {
	case "live":
		state = StatusLive.Render("live")
	case "disconnected":
		state = StatusDown.Render("disconnected")
	default:
		state = StatusDegraded.Render(m.streamState)
	}

	updated := "never"
	if !m.lastUpdate.IsZero() {
		updated = fmt.Sprintf("%.0fs ago", time.Since(m.lastUpdate).Seconds())
	}

	return BoxStyle.Render(fmt.Sprintf("binance stream: %s   %s",
		state,
		MutedStyle.Render("refreshed "+updated)))
}
