package logger

// Build diagnostics are collected in a message log. Workers append messages
// concurrently and the driver drains them once per build. Messages are sorted
// before they are returned so the output does not depend on scheduling.

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type Log struct {
	AddMsg    func(Msg)
	HasErrors func() bool

	// Peek returns a sorted snapshot without ending the log
	Peek func() []Msg

	// Done returns the sorted messages and prints a summary if applicable
	Done func() []Msg
}

type LogLevel int8

const (
	LevelNone LogLevel = iota
	LevelVerbose
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelSilent
)

type MsgKind uint8

const (
	Error MsgKind = iota
	Warning
	Info
	Debug
)

func (kind MsgKind) String() string {
	switch kind {
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Info:
		return "info"
	case Debug:
		return "debug"
	default:
		panic("Internal error")
	}
}

type Msg struct {
	Notes    []string
	Location *MsgLocation
	Text     string
	Kind     MsgKind
	ID       MsgID
}

type MsgLocation struct {
	File     string
	LineText string
	Line     int // 1-based
	Column   int // 0-based, in bytes
	Length   int // in bytes
}

// This type is just so we can use Go's native sort function
type msgsArray []Msg

func (a msgsArray) Len() int          { return len(a) }
func (a msgsArray) Swap(i int, j int) { a[i], a[j] = a[j], a[i] }

func (a msgsArray) Less(i int, j int) bool {
	ai := a[i]
	aj := a[j]
	li := ai.Location
	lj := aj.Location

	// Location
	if li == nil && lj != nil {
		return true
	}
	if li != nil && lj == nil {
		return false
	}
	if li != nil && lj != nil {
		if li.File != lj.File {
			return li.File < lj.File
		}
		if li.Line != lj.Line {
			return li.Line < lj.Line
		}
		if li.Column != lj.Column {
			return li.Column < lj.Column
		}
		if li.Length != lj.Length {
			return li.Length < lj.Length
		}
	}

	// Kind
	if ai.Kind != aj.Kind {
		return ai.Kind < aj.Kind
	}

	// Text
	return ai.Text < aj.Text
}

func plural(prefix string, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, prefix)
	}
	return fmt.Sprintf("%d %ss", count, prefix)
}

func errorAndWarningSummary(errors int, warnings int) string {
	switch {
	case errors == 0:
		return plural("warning", warnings)
	case warnings == 0:
		return plural("error", errors)
	default:
		return fmt.Sprintf("%s and %s",
			plural("warning", warnings),
			plural("error", errors))
	}
}

type TerminalInfo struct {
	IsTTY           bool
	UseColorEscapes bool
	Width           int
	Height          int
}

type StderrColor uint8

const (
	ColorIfTerminal StderrColor = iota
	ColorNever
	ColorAlways
)

type StderrOptions struct {
	IncludeSource bool
	ErrorLimit    int
	Color         StderrColor
	LogLevel      LogLevel
}

func NewStderrLog(options StderrOptions) Log {
	var mutex sync.Mutex
	var msgs msgsArray
	terminalInfo := GetTerminalInfo(os.Stderr)
	errors := 0
	warnings := 0
	errorLimitWasHit := false

	switch options.Color {
	case ColorNever:
		terminalInfo.UseColorEscapes = false
	case ColorAlways:
		terminalInfo.UseColorEscapes = SupportsColorEscapes
	}

	return Log{
		AddMsg: func(msg Msg) {
			mutex.Lock()
			defer mutex.Unlock()
			msgs = append(msgs, msg)

			// Be silent if we're past the limit so we don't flood the terminal
			if errorLimitWasHit {
				return
			}

			switch msg.Kind {
			case Error:
				errors++
				if options.LogLevel <= LevelError {
					os.Stderr.WriteString(msg.String(options, terminalInfo))
				}
			case Warning:
				warnings++
				if options.LogLevel <= LevelWarning {
					os.Stderr.WriteString(msg.String(options, terminalInfo))
				}
			case Info:
				if options.LogLevel <= LevelInfo {
					os.Stderr.WriteString(msg.String(options, terminalInfo))
				}
			case Debug:
				if options.LogLevel <= LevelDebug {
					os.Stderr.WriteString(msg.String(options, terminalInfo))
				}
			}

			if options.ErrorLimit != 0 && errors >= options.ErrorLimit {
				errorLimitWasHit = true
				if options.LogLevel <= LevelError {
					os.Stderr.WriteString(fmt.Sprintf(
						"%s reached (disable error limit with --error-limit=0)\n", errorAndWarningSummary(errors, warnings)))
				}
			}
		},
		HasErrors: func() bool {
			mutex.Lock()
			defer mutex.Unlock()
			return errors > 0
		},
		Peek: func() []Msg {
			mutex.Lock()
			defer mutex.Unlock()
			return sortedCopy(msgs)
		},
		Done: func() []Msg {
			mutex.Lock()
			defer mutex.Unlock()

			if !errorLimitWasHit && options.LogLevel <= LevelInfo && (warnings != 0 || errors != 0) {
				os.Stderr.WriteString(fmt.Sprintf("%s\n", errorAndWarningSummary(errors, warnings)))
			}

			sort.Stable(msgs)
			return msgs
		},
	}
}

func NewDeferLog() Log {
	var msgs msgsArray
	var mutex sync.Mutex
	var hasErrors bool

	return Log{
		AddMsg: func(msg Msg) {
			mutex.Lock()
			defer mutex.Unlock()
			if msg.Kind == Error {
				hasErrors = true
			}
			msgs = append(msgs, msg)
		},
		HasErrors: func() bool {
			mutex.Lock()
			defer mutex.Unlock()
			return hasErrors
		},
		Peek: func() []Msg {
			mutex.Lock()
			defer mutex.Unlock()
			return sortedCopy(msgs)
		},
		Done: func() []Msg {
			mutex.Lock()
			defer mutex.Unlock()
			sort.Stable(msgs)
			return msgs
		},
	}
}

func sortedCopy(msgs msgsArray) []Msg {
	clone := make(msgsArray, len(msgs))
	copy(clone, msgs)
	sort.Stable(clone)
	return clone
}

func (msg Msg) String(options StderrOptions, terminalInfo TerminalInfo) string {
	kindColor := color.New(color.FgRed, color.Bold)
	switch msg.Kind {
	case Warning:
		kindColor = color.New(color.FgMagenta, color.Bold)
	case Info, Debug:
		kindColor = color.New(color.FgCyan, color.Bold)
	}
	bold := color.New(color.Bold)
	marker := color.New(color.FgGreen)
	if !terminalInfo.UseColorEscapes {
		kindColor.DisableColor()
		bold.DisableColor()
		marker.DisableColor()
	}

	var sb strings.Builder
	if msg.Location == nil {
		sb.WriteString(fmt.Sprintf("%s %s\n", kindColor.Sprintf("%s:", msg.Kind), bold.Sprint(msg.Text)))
	} else if !options.IncludeSource || msg.Location.LineText == "" {
		sb.WriteString(fmt.Sprintf("%s: %s %s\n", bold.Sprint(msg.Location.File), kindColor.Sprintf("%s:", msg.Kind), bold.Sprint(msg.Text)))
	} else {
		loc := msg.Location
		sb.WriteString(fmt.Sprintf("%s %s %s\n",
			bold.Sprintf("%s:%d:%d:", loc.File, loc.Line, loc.Column),
			kindColor.Sprintf("%s:", msg.Kind),
			bold.Sprint(msg.Text)))
		lineText := loc.LineText
		if terminalInfo.Width > 0 && len(lineText) > terminalInfo.Width {
			lineText = lineText[:terminalInfo.Width]
		}
		sb.WriteString(fmt.Sprintf("    %s\n", lineText))
		length := loc.Length
		if length < 1 {
			length = 1
		}
		sb.WriteString(fmt.Sprintf("    %s%s\n", strings.Repeat(" ", loc.Column), marker.Sprint(strings.Repeat("~", length))))
	}
	for _, note := range msg.Notes {
		sb.WriteString(fmt.Sprintf("  %s\n", note))
	}
	return sb.String()
}

// LocationForOffset turns a byte offset into a message location. The offset
// is clamped to the bounds of the contents.
func LocationForOffset(file string, contents string, offset int, length int) *MsgLocation {
	if offset < 0 {
		offset = 0
	}
	if offset > len(contents) {
		offset = len(contents)
	}
	lineStart := strings.LastIndexByte(contents[:offset], '\n') + 1
	lineEnd := strings.IndexByte(contents[offset:], '\n')
	if lineEnd == -1 {
		lineEnd = len(contents)
	} else {
		lineEnd += offset
	}
	return &MsgLocation{
		File:     file,
		Line:     strings.Count(contents[:lineStart], "\n") + 1,
		Column:   offset - lineStart,
		Length:   length,
		LineText: contents[lineStart:lineEnd],
	}
}

func (log Log) AddError(loc *MsgLocation, text string) {
	log.AddMsg(Msg{
		Kind:     Error,
		Text:     text,
		Location: loc,
	})
}

func (log Log) AddErrorWithNotes(loc *MsgLocation, text string, notes []string) {
	log.AddMsg(Msg{
		Kind:     Error,
		Text:     text,
		Location: loc,
		Notes:    notes,
	})
}

func (log Log) AddID(id MsgID, kind MsgKind, loc *MsgLocation, text string) {
	log.AddMsg(Msg{
		ID:       id,
		Kind:     kind,
		Text:     text,
		Location: loc,
	})
}

func (log Log) AddIDWithNotes(id MsgID, kind MsgKind, loc *MsgLocation, text string, notes []string) {
	log.AddMsg(Msg{
		ID:       id,
		Kind:     kind,
		Text:     text,
		Location: loc,
		Notes:    notes,
	})
}

// Counts returns the number of errors and warnings in the log so far
func (log Log) Counts() (errors int, warnings int) {
	for _, msg := range log.Peek() {
		switch msg.Kind {
		case Error:
			errors++
		case Warning:
			warnings++
		}
	}
	return
}
