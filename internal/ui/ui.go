package ui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/hako/durafmt"

	"github.com/doridoridoriand/tunnelwatch/internal/state"
)

const (
	uiRefreshInterval = 500 * time.Millisecond
	minBoxHeight      = 3
	labelWidth        = 13
)

// Settings are the static values shown on the config line.
type Settings struct {
	ServerName string
	Threshold  int
	Interval   time.Duration
	Debounce   time.Duration
}

// SnapshotSource is the read side of state.Store.
type SnapshotSource interface {
	GetSnapshot() state.Snapshot
}

// UI renders a TUI view of the control loop.
type UI struct {
	settings Settings
	state    SnapshotSource
	now      func() time.Time
}

// New returns a UI instance.
func New(settings Settings, store SnapshotSource) *UI {
	return &UI{settings: settings, state: store, now: time.Now}
}

// Run blocks until the context is cancelled or the user quits.
// Quitting returns context.Canceled so the caller can stop the loop the same way.
func (u *UI) Run(ctx context.Context) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	screen.HideCursor()
	defer screen.Fini()

	eventCh := make(chan tcell.Event, 1)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case eventCh <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(uiRefreshInterval)
	defer ticker.Stop()

	u.render(screen, u.state.GetSnapshot())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-eventCh:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
					return context.Canceled
				}
			case *tcell.EventResize:
				screen.Sync()
			}
		case <-ticker.C:
			u.render(screen, u.state.GetSnapshot())
		}
	}
}

func (u *UI) render(screen tcell.Screen, snap state.Snapshot) {
	screen.Clear()
	width, height := screen.Size()
	if width < 20 || height < 5 {
		screen.Show()
		return
	}

	now := u.now()
	header := fmt.Sprintf(" tunnelwatch  %s  (q to quit)", now.Format("2006-01-02 15:04:05"))
	drawText(screen, 0, 0, width, header, tcell.StyleDefault.Bold(true))
	drawText(screen, 0, 1, width, formatConfigInfo(u.settings), tcell.StyleDefault.Foreground(tcell.ColorGray))

	y := 2
	for _, box := range u.boxes(snap, now, width-2) {
		if height-y < minBoxHeight {
			break
		}
		boxHeight := minInt(len(box.rows)+2, height-y)
		drawBox(screen, 0, y, width, boxHeight)
		drawText(screen, 2, y, width-4, fmt.Sprintf(" %s ", box.title), tcell.StyleDefault.Bold(true))
		for i := 0; i < len(box.rows) && i < boxHeight-2; i++ {
			drawStyledText(screen, 1, y+1+i, width-2, box.rows[i])
		}
		y += boxHeight
	}

	screen.Show()
}

type panel struct {
	title string
	rows  [][]styledRune
}

// boxes lays out the dashboard for a given inner width.
func (u *UI) boxes(snap state.Snapshot, now time.Time, width int) []panel {
	lastStyle := stateStyle(snap.LastState)
	countStyle := tcell.StyleDefault
	if snap.FetchError != "" {
		countStyle = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	}

	countLine := fmt.Sprintf("%d / %d ", snap.ClientCount, snap.Threshold)
	count := []styledText{
		{text: padOrTrim("clients", labelWidth), style: tcell.StyleDefault},
		{text: countLine, style: countStyle},
	}
	if barWidth := width - labelWidth - len([]rune(countLine)); barWidth > 0 {
		count = append(count, styledText{
			text:  buildCountBar(snap.ClientCount, snap.Threshold, barWidth),
			style: lastStyle,
		})
	}

	fetch := "ok"
	if snap.FetchError != "" {
		fetch = "failed, counted as 0: " + snap.FetchError
	}

	stateRows := [][]styledText{
		{
			{text: padOrTrim("state", labelWidth), style: tcell.StyleDefault},
			{text: padOrTrim(snap.LastState.String(), 8), style: lastStyle},
			{text: "desired ", style: tcell.StyleDefault},
			{text: padOrTrim(snap.Desired.String(), 8), style: stateStyle(snap.Desired)},
			{text: suppressedNote(snap.Suppressed), style: tcell.StyleDefault.Foreground(tcell.ColorYellow)},
		},
		labelled("last action", formatLastAction(snap.LastAction)),
		labelled("next check", formatNextCheck(now, snap.NextCheckAt)),
		labelled("metric", fetch),
	}
	if snap.LastLoopError != "" {
		stateRows = append(stateRows, []styledText{
			{text: padOrTrim("loop error", labelWidth), style: tcell.StyleDefault},
			{text: snap.LastLoopError, style: tcell.StyleDefault.Foreground(tcell.ColorRed)},
		})
	}

	counters := fmt.Sprintf("iterations=%d  fetch_failures=%d  mirror_failures=%d  suppressions=%d  loop_errors=%d",
		snap.Iterations, snap.FetchFailures, snap.MirrorFailures, snap.Suppressions, snap.LoopErrors)

	return []panel{
		{title: "client count", rows: [][]styledRune{flattenStyledText(count, width)}},
		{title: "tunnel", rows: flattenRows(stateRows, width)},
		{title: "counters", rows: [][]styledRune{flattenStyledText(labelled("totals", counters), width)}},
	}
}

func labelled(label, value string) []styledText {
	return []styledText{
		{text: padOrTrim(label, labelWidth), style: tcell.StyleDefault},
		{text: value, style: tcell.StyleDefault},
	}
}

func flattenRows(rows [][]styledText, width int) [][]styledRune {
	out := make([][]styledRune, 0, len(rows))
	for _, row := range rows {
		out = append(out, flattenStyledText(row, width))
	}
	return out
}

func suppressedNote(suppressed bool) string {
	if suppressed {
		return "(debounced)"
	}
	return ""
}

// buildCountBar scales the count against twice the threshold and marks the threshold with '|'.
func buildCountBar(count, threshold, width int) string {
	if width <= 0 {
		return ""
	}
	scale := maxInt(maxInt(2*threshold, count), 1)
	units := int(math.Round(float64(count) / float64(scale) * float64(width)))
	units = minInt(maxInt(units, 0), width)

	bar := []rune(strings.Repeat("#", units) + strings.Repeat(" ", width-units))
	mark := int(math.Round(float64(threshold) / float64(scale) * float64(width)))
	bar[minInt(maxInt(mark, 0), width-1)] = '|'
	return string(bar)
}

func formatLastAction(a *state.ActionOutcome) string {
	if a == nil {
		return "none yet"
	}
	result := "ok"
	if !a.Success {
		result = "failed"
		if a.Error != "" {
			result += " (" + a.Error + ")"
		}
	}
	return fmt.Sprintf("%s %s in %s at %s run=%s",
		a.State, result, formatDuration(a.Duration), a.At.Local().Format("15:04:05"), shortID(a.RunID))
}

func formatNextCheck(now, next time.Time) string {
	if next.IsZero() {
		return "running"
	}
	remaining := next.Sub(now)
	if remaining <= 0 {
		return "due"
	}
	return "in " + durafmt.Parse(remaining.Round(time.Second)).LimitFirstN(2).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func drawBox(screen tcell.Screen, x, y, width, height int) {
	if width < 2 || height < 2 {
		return
	}
	right := x + width - 1
	bottom := y + height - 1

	setCell(screen, x, y, '+', tcell.StyleDefault)
	setCell(screen, right, y, '+', tcell.StyleDefault)
	setCell(screen, x, bottom, '+', tcell.StyleDefault)
	setCell(screen, right, bottom, '+', tcell.StyleDefault)

	for col := x + 1; col < right; col++ {
		setCell(screen, col, y, '-', tcell.StyleDefault)
		setCell(screen, col, bottom, '-', tcell.StyleDefault)
	}
	for row := y + 1; row < bottom; row++ {
		setCell(screen, x, row, '|', tcell.StyleDefault)
		setCell(screen, right, row, '|', tcell.StyleDefault)
	}
}

func drawText(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	drawStyledText(screen, x, y, width, []styledRune{{r: []rune(text), style: style}})
}

type styledText struct {
	text  string
	style tcell.Style
}

type styledRune struct {
	r     []rune
	style tcell.Style
}

func drawStyledText(screen tcell.Screen, x, y, width int, parts []styledRune) {
	if width <= 0 {
		return
	}
	col := x
	for _, part := range parts {
		for _, r := range part.r {
			if col >= x+width {
				return
			}
			setCell(screen, col, y, r, part.style)
			col++
		}
	}
	for col < x+width {
		setCell(screen, col, y, ' ', tcell.StyleDefault)
		col++
	}
}

func flattenStyledText(parts []styledText, width int) []styledRune {
	result := make([]styledRune, 0, len(parts))
	used := 0
	for _, part := range parts {
		runes := []rune(part.text)
		if used+len(runes) > width {
			runes = runes[:maxInt(0, width-used)]
		}
		result = append(result, styledRune{r: runes, style: part.style})
		used += len(runes)
		if used >= width {
			break
		}
	}
	return result
}

func setCell(screen tcell.Screen, x, y int, r rune, style tcell.Style) {
	screen.SetContent(x, y, r, nil, style)
}

func padOrTrim(value string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) > width {
		return string(runes[:width])
	}
	if len(runes) < width {
		return value + strings.Repeat(" ", width-len(runes))
	}
	return value
}

func stateStyle(s state.DesiredState) tcell.Style {
	switch s {
	case state.StateUp:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case state.StateDown:
		return tcell.StyleDefault.Foreground(tcell.ColorRed)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorGray)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func formatConfigInfo(s Settings) string {
	return fmt.Sprintf(" server=%s  threshold=%d  interval=%s  debounce=%s",
		s.ServerName, s.Threshold, formatDuration(s.Interval), formatDuration(s.Debounce))
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
