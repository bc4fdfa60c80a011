// Package console adapts the teacher's interactive readline-based debug
// console from watching MQTT topic DisplayData to watching this system's
// DataPointContainer labels and the DPL/grid-charger status fields: same
// WatchSpec/ANSI-highlight idiom, new subject matter. It is the ambient
// local operator interface, not the web/WebSocket surface kept out of
// scope elsewhere.
package console

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ryansname/powerctl/internal/governor"
)

// Snapshot is one poll of the system's watchable state: Text holds
// pre-rendered fields (status enums, serials); Numeric holds plain floats
// eligible for the rolling min/max window.
type Snapshot struct {
	Text    map[string]string
	Numeric map[string]float64
}

// WatchSpec names one label to watch, optionally with a rolling min/max
// window in place of the teacher's percentile windows — this system has no
// percentile tracker, but governor.RollingMinMax gives the same "how has
// this moved over the last hour" answer for a numeric label.
type WatchSpec struct {
	Label  string
	Window bool
}

func (w WatchSpec) String() string {
	if w.Window {
		return w.Label + " -w"
	}
	return w.Label
}

// ansiYellow highlights a changed value in the row output.
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m"
)

// readlineWriter routes standard-log output through readline so prompt
// redraws never interleave with log lines.
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

var rlWriter = &readlineWriter{}

// State tracks the set of watched labels, the rolling windows backing them,
// and change-highlighting state between polls.
type State struct {
	watches       []WatchSpec
	rolling       map[string]*governor.RollingMinMax
	headerPrinted bool
	columnWidths  []int
	latest        *Snapshot
	rl            *readline.Instance
	prevValues    map[string]string
}

// NewState constructs an empty console state.
func NewState() *State {
	return &State{
		rolling:    make(map[string]*governor.RollingMinMax),
		prevValues: make(map[string]string),
	}
}

func (s *State) SetReadline(rl *readline.Instance) { s.rl = rl }

func (s *State) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	} else {
		fmt.Println(line)
	}
}

// AddWatch registers spec, rejecting an exact duplicate.
func (s *State) AddWatch(spec WatchSpec) {
	for _, w := range s.watches {
		if w.String() == spec.String() {
			log.Printf("Already watching: %s", spec.String())
			return
		}
	}
	s.watches = append(s.watches, spec)
	sort.Slice(s.watches, func(i, j int) bool { return s.watches[i].Label < s.watches[j].Label })
	if spec.Window {
		if _, ok := s.rolling[spec.Label]; !ok {
			r := governor.NewRollingMinMax()
			s.rolling[spec.Label] = &r
		}
	}
	s.headerPrinted = false
	log.Printf("Watching: %s", spec.String())
}

// RemoveWatch removes an exact match, reporting whether one was found.
func (s *State) RemoveWatch(spec WatchSpec) bool {
	for i, w := range s.watches {
		if w.String() == spec.String() {
			s.watches = slices.Delete(s.watches, i, i+1)
			s.headerPrinted = false
			log.Printf("Unwatched: %s", spec.String())
			return true
		}
	}
	return false
}

// RemoveAll clears every watch.
func (s *State) RemoveAll() {
	s.watches = s.watches[:0]
	s.headerPrinted = false
	log.Println("All watches removed")
}

// UpdateData stores the latest snapshot for use by the list command and
// feeds fresh numeric samples into any active rolling windows.
func (s *State) UpdateData(snap Snapshot) {
	s.latest = &snap
	for label, r := range s.rolling {
		if v, ok := snap.Numeric[label]; ok {
			r.Update(v)
		}
	}
}

// ListLabels prints every currently-known label, sorted.
func (s *State) ListLabels() {
	if s.latest == nil {
		log.Println("No data received yet")
		return
	}
	labels := make([]string, 0, len(s.latest.Text)+len(s.latest.Numeric))
	for l := range s.latest.Text {
		labels = append(labels, l)
	}
	for l := range s.latest.Numeric {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	s.print("Available labels (%d):", len(labels))
	for _, l := range labels {
		s.print("  %s", l)
	}
}

func (s *State) valueFor(spec WatchSpec) string {
	if s.latest == nil {
		return "-"
	}
	if spec.Window {
		r, ok := s.rolling[spec.Label]
		if !ok {
			return "-"
		}
		return fmt.Sprintf("%s/%s", formatValue(r.Min()), formatValue(r.Max()))
	}
	if v, ok := s.latest.Text[spec.Label]; ok {
		return v
	}
	if v, ok := s.latest.Numeric[spec.Label]; ok {
		return formatValue(v)
	}
	return "-"
}

func formatValue(v float64) string {
	if v >= 100 || v <= -100 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

func (s *State) printHeader() {
	if len(s.watches) == 0 {
		return
	}
	s.columnWidths = make([]int, len(s.watches))
	parts := make([]string, len(s.watches))
	for i, w := range s.watches {
		s.columnWidths[i] = len(w.Label)
		parts[i] = fmt.Sprintf("%*s", s.columnWidths[i], w.Label)
	}
	s.print("%s", strings.Join(parts, " | "))
	s.headerPrinted = true
	s.prevValues = make(map[string]string)
}

// PrintRow renders one line for the current snapshot, highlighting any
// value that changed since the last printed row, and suppresses output
// entirely when nothing changed (matching the teacher's quiet-by-default
// idiom).
func (s *State) PrintRow() {
	if len(s.watches) == 0 {
		return
	}
	if !s.headerPrinted {
		s.printHeader()
	}

	parts := make([]string, len(s.watches))
	newValues := make(map[string]string, len(s.watches))
	anyChanged := false

	for i, w := range s.watches {
		value := s.valueFor(w)
		key := w.String()
		newValues[key] = value

		width := s.columnWidths[i]
		if len(value) > width {
			width = len(value)
			s.columnWidths[i] = width
		}

		prev, had := s.prevValues[key]
		changed := !had || prev != value
		if changed {
			anyChanged = true
			parts[i] = fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset)
		} else {
			parts[i] = fmt.Sprintf("%*s", width, value)
		}
	}

	if anyChanged {
		s.print("%s", strings.Join(parts, " | "))
		s.prevValues = newValues
	}
}

// parseWatchSpec parses "watch <label> [-w]" arguments.
func parseWatchSpec(args []string) (*WatchSpec, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: watch <label> [-w]")
	}
	spec := &WatchSpec{Label: args[0]}
	for _, a := range args[1:] {
		if a != "-w" {
			return nil, fmt.Errorf("unknown option: %s", a)
		}
		spec.Window = true
	}
	return spec, nil
}

// handleCommand dispatches one parsed command line against state.
func handleCommand(cmd string, state *State) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "watch":
		spec, err := parseWatchSpec(parts[1:])
		if err != nil {
			log.Printf("Error: %v", err)
			return
		}
		state.AddWatch(*spec)

	case "unwatch":
		if len(parts) < 2 {
			log.Println("Usage: unwatch <label> [-w] | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			state.RemoveAll()
			return
		}
		spec, err := parseWatchSpec(parts[1:])
		if err != nil {
			log.Printf("Error: %v", err)
			return
		}
		if !state.RemoveWatch(*spec) {
			log.Printf("No watch found for: %s", spec.String())
		}

	case "list":
		state.ListLabels()

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  list                 - List all available labels")
		fmt.Println("  watch <label>        - Watch current value")
		fmt.Println("  watch <label> -w     - Watch rolling 1h min/max")
		fmt.Println("  unwatch <label>      - Remove a watch")
		fmt.Println("  unwatch --all        - Remove all watches")
		fmt.Println("  help                 - Show this help")

	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
}

func readlineLoop(ctx context.Context, cancel context.CancelFunc, rl *readline.Instance, commands chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel()
			return
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commands <- line
		}
	}
}

func historyFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "powerctl")
	_ = os.MkdirAll(dir, 0750)
	return filepath.Join(dir, "console_history")
}

// Run starts the interactive console, blocking until ctx is cancelled or
// stdin closes. dataChan delivers a fresh Snapshot each time the caller's
// poll loop produces one.
func Run(ctx context.Context, cancel context.CancelFunc, dataChan <-chan Snapshot) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: historyFilePath(),
	})
	if err != nil {
		log.Printf("console: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil
	}()

	rlWriter.rl = rl
	log.SetOutput(rlWriter)
	log.Println("Console started (type 'help' for commands)")

	commands := make(chan string, 10)
	state := NewState()
	state.SetReadline(rl)

	go readlineLoop(ctx, cancel, rl, commands)

	for {
		select {
		case cmd := <-commands:
			handleCommand(cmd, state)
		case snap := <-dataChan:
			state.UpdateData(snap)
			if len(state.watches) > 0 {
				state.PrintRow()
			}
		case <-ctx.Done():
			log.Println("Console stopped")
			return
		}
	}
}
