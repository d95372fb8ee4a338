// Package tui is the presentation boundary: a bubbletea model that
// consumes read-only engine projections and maps key input to engine
// commands through an injected keymap.
package tui

import (
	"context"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/glabrego/threadnews-cli/internal/session"
)

const fetchTimeout = 30 * time.Second

type completionMsg struct {
	completion session.Completion
}

type clearFlashMsg struct {
	id int
}

type Model struct {
	engine *session.Engine
	keymap Keymap
	logger zerolog.Logger
	theme  theme

	// sem bounds concurrently in-flight fetches so rapid expansion of a
	// deep tree cannot fan out without limit.
	sem *semaphore.Weighted

	width  int
	height int

	pagerTop    int
	lastPagerID string

	showHelp    bool
	prompting   bool
	promptInput string
	flashID     int
}

func NewModel(engine *session.Engine, keymap Keymap, fetchLimit int64, logger zerolog.Logger) Model {
	if fetchLimit < 1 {
		fetchLimit = 4
	}
	return Model{
		engine: engine,
		keymap: keymap,
		logger: logger,
		theme:  defaultTheme(),
		sem:    semaphore.NewWeighted(fetchLimit),
	}
}

func (m Model) Init() tea.Cmd {
	fetch, err := m.engine.Init(context.Background())
	if err != nil {
		m.logger.Error().Err(err).Msg("session init failed")
		return nil
	}
	return m.fetchCmd(fetch)
}

// fetchCmd runs a planned fetch off the update loop. The semaphore is
// held for the duration of the network call only; the completion comes
// back as a message and is applied in Update, the single writer.
func (m Model) fetchCmd(fetch *session.Fetch) tea.Cmd {
	if fetch == nil {
		return nil
	}
	planned := *fetch
	engine := m.engine
	sem := m.sem
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		if err := sem.Acquire(ctx, 1); err != nil {
			return completionMsg{completion: session.Completion{Fetch: planned, Err: err}}
		}
		defer sem.Release(1)
		return completionMsg{completion: engine.Execute(ctx, planned)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case completionMsg:
		m.engine.Apply(context.Background(), msg.completion)
		// A completion can open a new pager target; start it at the top.
		if p := m.engine.Projection(); p.Pager != nil && p.Pager.Msg.ID != m.lastPagerID {
			m.lastPagerID = p.Pager.Msg.ID
			m.pagerTop = 0
		}
		return m.withFlashTimer(nil)

	case clearFlashMsg:
		if msg.id == m.flashID {
			m.engine.ClearFlash()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if m.prompting {
		return m.handlePromptKey(key)
	}
	if m.showHelp {
		switch key {
		case "ctrl+c":
			return m, tea.Quit
		default:
			m.showHelp = false
			return m, nil
		}
	}

	cmd, ok := m.keymap[key]
	if !ok {
		return m, nil
	}

	if n, isGroup := GroupIndex(cmd); isGroup {
		fetch, err := m.engine.ChangeGroup(context.Background(), n)
		if err != nil {
			m.logger.Debug().Err(err).Int("group", n).Msg("group change rejected")
		}
		m.pagerTop = 0
		return m.withFlashTimer(m.fetchCmd(fetch))
	}

	ctx := context.Background()
	switch cmd {
	case CmdQuit:
		return m, tea.Quit

	case CmdSelectNext:
		m.engine.SelectNext()
		return m, nil
	case CmdSelectPrev:
		m.engine.SelectPrev()
		return m, nil

	case CmdOpen:
		fetch, err := m.engine.Open(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("open failed")
		}
		m.pagerTop = 0
		return m.withFlashTimer(m.fetchCmd(fetch))

	case CmdClose:
		m.engine.Close()
		m.pagerTop = 0
		return m, nil

	case CmdNextUnread:
		if err := m.engine.JumpNextUnread(); err != nil {
			return m.withFlashTimer(nil)
		}
		return m, nil

	case CmdSetMark:
		m.engine.SetMark()
		return m.withFlashTimer(nil)
	case CmdJumpMark:
		if err := m.engine.JumpToMark(); err != nil {
			return m.withFlashTimer(nil)
		}
		return m, nil
	case CmdSwapMark:
		if err := m.engine.SwapMark(); err != nil {
			return m.withFlashTimer(nil)
		}
		return m, nil

	case CmdNextPage:
		fetch, err := m.engine.NextPage(ctx)
		if err != nil {
			m.logger.Debug().Err(err).Msg("next page rejected")
		}
		return m.withFlashTimer(m.fetchCmd(fetch))
	case CmdPrevPage:
		fetch, err := m.engine.PrevPage(ctx)
		if err != nil {
			m.logger.Debug().Err(err).Msg("prev page rejected")
		}
		return m.withFlashTimer(m.fetchCmd(fetch))
	case CmdGotoPage:
		m.prompting = true
		m.promptInput = ""
		return m, nil

	case CmdRefresh:
		fetch, err := m.engine.Refresh(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("refresh failed")
		}
		return m.withFlashTimer(m.fetchCmd(fetch))

	case CmdToggleStar:
		if err := m.engine.ToggleStar(ctx, session.StarMessage); err != nil {
			m.logger.Warn().Err(err).Msg("star toggle failed")
		}
		return m.withFlashTimer(nil)
	case CmdToggleStarThread:
		if err := m.engine.ToggleStar(ctx, session.StarThread); err != nil {
			m.logger.Warn().Err(err).Msg("thread star toggle failed")
		}
		return m.withFlashTimer(nil)

	case CmdToggleRaw:
		m.engine.ToggleRaw()
		m.pagerTop = 0
		return m, nil

	case CmdHelp:
		m.showHelp = true
		return m, nil

	case CmdPagerDown:
		m.pagerTop += m.pagerHeight() / 2
		return m, nil
	case CmdPagerUp:
		m.pagerTop -= m.pagerHeight() / 2
		if m.pagerTop < 0 {
			m.pagerTop = 0
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handlePromptKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "enter":
		m.prompting = false
		n, err := strconv.Atoi(m.promptInput)
		if err != nil {
			return m, nil
		}
		fetch, err := m.engine.GotoPage(context.Background(), n)
		if err != nil {
			m.logger.Debug().Err(err).Int("page", n).Msg("goto page rejected")
		}
		return m.withFlashTimer(m.fetchCmd(fetch))
	case "esc", "ctrl+c":
		m.prompting = false
		m.promptInput = ""
		return m, nil
	case "backspace":
		if len(m.promptInput) > 0 {
			m.promptInput = m.promptInput[:len(m.promptInput)-1]
		}
		return m, nil
	}
	if len(key) == 1 && key[0] >= '0' && key[0] <= '9' {
		m.promptInput += key
	}
	return m, nil
}

// withFlashTimer schedules clearing the flash line a few seconds after
// the command that set it.
func (m Model) withFlashTimer(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.engine.Projection().Flash == "" {
		return m, cmd
	}
	m.flashID++
	id := m.flashID
	clear := tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return clearFlashMsg{id: id}
	})
	if cmd == nil {
		return m, clear
	}
	return m, tea.Batch(cmd, clear)
}
