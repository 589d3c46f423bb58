package reply

import "strings"

// CommandKind is a recognized reply token.
type CommandKind string

const (
	CommandNone   CommandKind = ""
	CommandDone   CommandKind = "SELESAI"
	CommandSnooze CommandKind = "TUNDA"
	CommandNote   CommandKind = "CATAT"
)

type Command struct {
	Kind CommandKind
	Note string // original casing, trimmed; CommandNote only
}

// ParseCommand matches raw against the reply tokens, first match wins:
//
//	SELESAI            exactly
//	TUNDA, TUNDA ...   exactly or followed by a space
//	CATAT:..., CATAT ...
//
// Matching is case-insensitive; the note keeps the sender's casing.
func ParseCommand(raw string) Command {
	orig := strings.TrimSpace(raw)
	norm := strings.ToUpper(orig)
	switch {
	case norm == string(CommandDone):
		return Command{Kind: CommandDone}
	case norm == string(CommandSnooze) || strings.HasPrefix(norm, string(CommandSnooze)+" "):
		return Command{Kind: CommandSnooze}
	case strings.HasPrefix(norm, "CATAT:") || strings.HasPrefix(norm, "CATAT "):
		return Command{Kind: CommandNote, Note: extractNote(orig)}
	default:
		return Command{}
	}
}

// extractNote returns the text after the first colon, or after the 5-byte
// CATAT prefix when there is none.
func extractNote(orig string) string {
	if i := strings.Index(orig, ":"); i >= 0 {
		return strings.TrimSpace(orig[i+1:])
	}
	if len(orig) < len(CommandNote) {
		return ""
	}
	return strings.TrimSpace(orig[len(CommandNote):])
}
