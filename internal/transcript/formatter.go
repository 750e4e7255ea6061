package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/quasarcli/quasar/internal/protocol"
)

// Formatter formats protocol messages for console output
type Formatter struct{}

// NewFormatter creates a new transcript formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatEvent formats an event for console display
func (f *Formatter) FormatEvent(evt *protocol.Event) string {
	var details string

	switch evt.Event {
	case protocol.EventHookStarted:
		return fmt.Sprintf("%s: Running %q hook...", f.source(evt.ExtensionID), evt.Hook)

	case protocol.EventHookCompleted:
		return fmt.Sprintf("%s: %q hook done", f.source(evt.ExtensionID), evt.Hook)

	case protocol.EventHookFailed:
		return fmt.Sprintf("%s: %q hook failed: %s", f.source(evt.ExtensionID), evt.Hook, evt.Error)

	case protocol.EventPhaseStarted, protocol.EventPhaseCompleted:
		details = evt.Phase

	case protocol.EventTargetCompiled:
		details = evt.Target
		switch files := evt.Payload["files"].(type) {
		case int:
			details += fmt.Sprintf(" (%d files)", files)
		case float64: // read back from a log
			details += fmt.Sprintf(" (%d files)", int(files))
		}

	case protocol.EventTargetFailed:
		details = fmt.Sprintf("%s: %s", evt.Target, evt.Error)

	case protocol.EventDevTransition:
		details = evt.State
		if evt.Error != "" {
			details += ", error: " + evt.Error
		}

	case protocol.EventPublished:
		if loc, ok := evt.Payload["location"].(string); ok {
			details = loc
		}

	default:
		if evt.Status != "" {
			details = fmt.Sprintf("status: %s", evt.Status)
		}
		if evt.Error != "" {
			details += fmt.Sprintf(", error: %s", evt.Error)
		}
	}

	if details != "" {
		return fmt.Sprintf("[%s] %s: %s", f.scope(evt), evt.Event, strings.TrimPrefix(details, ", "))
	}

	return fmt.Sprintf("[%s] %s", f.scope(evt), evt.Event)
}

// FormatStatus formats a compile status for console display
func (f *Formatter) FormatStatus(st *protocol.Status) string {
	switch {
	case st.Phase == protocol.PhaseCompiling:
		return fmt.Sprintf("[%s] compiling...", st.Target)
	case st.Failed():
		return fmt.Sprintf("[%s] compiled with %d error(s):\n  %s", st.Target, len(st.Errors), strings.Join(st.Errors, "\n  "))
	default:
		s := fmt.Sprintf("[%s] compiled successfully", st.Target)
		if st.DurationMs > 0 {
			s += fmt.Sprintf(" in %dms", st.DurationMs)
		}
		if st.URL != "" {
			s += " at " + st.URL
		}
		return s
	}
}

// FormatLog formats a log message for console display
func (f *Formatter) FormatLog(log *protocol.Log) string {
	level := strings.ToUpper(string(log.Level))
	return fmt.Sprintf("[LOG:%s] %s", level, log.Message)
}

// Summary describes a finished build for the success banner.
type Summary struct {
	Mode      string
	Target    string
	DistDir   string
	Targets   []string
	Files     int
	Bytes     int64
	Duration  time.Duration
	Published string
}

// FormatBanner renders the banner printed after a successful build.
func (f *Formatter) FormatBanner(s Summary) string {
	var b strings.Builder
	mode := s.Mode
	if s.Target != "" {
		mode += "/" + s.Target
	}

	fmt.Fprintf(&b, "Build succeeded (%s)\n", mode)
	fmt.Fprintf(&b, "  Output folder ..... %s\n", s.DistDir)
	fmt.Fprintf(&b, "  Sub-targets ....... %s\n", strings.Join(s.Targets, ", "))
	fmt.Fprintf(&b, "  Files ............. %d (%s)\n", s.Files, f.formatSize(s.Bytes))
	fmt.Fprintf(&b, "  Duration .......... %s\n", s.Duration.Round(time.Millisecond))
	if s.Published != "" {
		fmt.Fprintf(&b, "  Published to ...... %s\n", s.Published)
	}
	return b.String()
}

func (f *Formatter) scope(evt *protocol.Event) string {
	if evt.Mode != "" {
		return evt.Mode
	}
	return "quasar"
}

func (f *Formatter) source(extensionID string) string {
	if extensionID == "" || extensionID == "quasar.config" {
		return "quasar.config"
	}
	return fmt.Sprintf("Extension(%s)", extensionID)
}

// formatSize formats a byte size in a human-readable format
func (f *Formatter) formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KiB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
