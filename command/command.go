// Package command
// Author: momentics <momentics@gmail.com>
//
// Flat KEY=VALUE;KEY=VALUE application protocol carried inside WebSocket
// text and binary messages.
//
// Parsing trims the payload, splits entries on ";" and each entry at its
// first "=". The MSG entry holds free text and swallows the rest of the
// payload, so chat messages may contain ";" as long as MSG is the last key.

package command

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiters.
const (
	EntryDelim = ";"
	KVDelim    = "="
)

// Keys.
const (
	KeyCmd      = "CMD"
	KeyUser     = "UNAME"
	KeyPassword = "PSSWRD"
	KeyFirst    = "FNAME"
	KeyLast     = "LNAME"
	KeyErrMsg   = "ERR_MSG"
	KeyErrored  = "ERRORED"
	KeyChatName = "CHAT_NAME"
	KeyMsg      = "MSG"
	KeyStage    = "STAGE"
)

// Command names.
const (
	LogIn      = "LOG_IN"
	SignUp     = "SGN_UP"
	LogOff     = "LOG_OFF"
	CreateChat = "CRT_CHT"
	DeleteChat = "DLT_CHT"
	JoinChat   = "JOIN_CHT"
	LeaveChat  = "LEAVE_CHT"
	SignOff    = "SIGN_OFF"
	Message    = "MSG"
)

// ErrMalformed marks a payload entry without a key/value delimiter.
var ErrMalformed = errors.New("malformed command")

// Command is a parsed payload keyed by entry name.
type Command map[string]string

// Name returns the CMD value.
func (c Command) Name() string {
	return c[KeyCmd]
}

// Get returns the value of key and whether it was present and non-empty.
func (c Command) Get(key string) (string, bool) {
	v, ok := c[key]
	return v, ok && v != ""
}

// Parse decodes payload into a Command. Later duplicates of a key win.
func Parse(payload string) (Command, error) {
	payload = strings.TrimSpace(payload)
	cmd := make(Command)
	for payload != "" {
		entry, rest, _ := strings.Cut(payload, EntryDelim)
		payload = rest
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, KVDelim)
		if !ok {
			return nil, fmt.Errorf("%w: entry %q has no %q", ErrMalformed, entry, KVDelim)
		}
		key = strings.TrimSpace(key)
		if key == KeyMsg {
			if rest != "" {
				value += EntryDelim + rest
			}
			cmd[key] = value
			break
		}
		cmd[key] = value
	}
	return cmd, nil
}

// Entry is one ordered key/value pair of a response.
type Entry struct {
	Key   string
	Value string
}

// E is shorthand for building an Entry.
func E(key, value string) Entry {
	return Entry{Key: key, Value: value}
}

// Format encodes entries in order.
func Format(entries ...Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString(EntryDelim)
		}
		b.WriteString(e.Key)
		b.WriteString(KVDelim)
		b.WriteString(e.Value)
	}
	return b.String()
}

// OK is the plain success response.
func OK(extra ...Entry) string {
	return Format(append([]Entry{E(KeyErrored, "false")}, extra...)...)
}

// Failure is the structured error response.
func Failure(msg string) string {
	return Format(E(KeyErrored, "true"), E(KeyErrMsg, sanitize(msg)))
}

// Unsupported is the response for a command the current stage does not handle.
func Unsupported(name string) string {
	return Failure(fmt.Sprintf("The command, %s is not supported.", name))
}

// sanitize keeps error text from breaking entry boundaries.
func sanitize(s string) string {
	return strings.ReplaceAll(s, EntryDelim, ",")
}
