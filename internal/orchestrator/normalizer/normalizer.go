// Package normalizer provides the minimal concrete log-to-normalized-entry
// parser; most normalizers are an out-of-scope external collaborator,
// referenced here only through the Normalizer interface plus one default
// implementation sufficient to exercise msgstore's normalized-entry
// writer end to end.
package normalizer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/outerlook/orchestratorcore/internal/orchestrator/msgstore"
)

// Normalizer watches a Store's Stdout/Stderr messages and pushes
// JsonPatch messages addressed at /entries/<n> for anything it can
// parse into a structured entry.
type Normalizer interface {
	NormalizeLogs(store *msgstore.Store)
}

// Noop is used for executor profiles with no structured output stream.
type Noop struct{}

func (Noop) NormalizeLogs(*msgstore.Store) {}

// Entry is one normalized conversation entry.
type Entry struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Text    string `json:"text,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Tokens  *TokenUsage `json:"tokens,omitempty"`
}

// TokenUsage mirrors msgstore's /entries/<n> TokenUsage shape.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// claudeEvent/claudeMessage mirror Claude Code's stream-json output
// shape.
type claudeEvent struct {
	Type      string          `json:"type"`
	Message   json.RawMessage `json:"message,omitempty"`
	SessionID string          `json:"sessionID,omitempty"`
}

type claudeMessage struct {
	Content []claudeBlock `json:"content"`
	Usage   *claudeUsage  `json:"usage,omitempty"`
}

type claudeBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ClaudeStreamJSON parses Claude Code's --output-format stream-json lines
// into normalized Store entries and a SessionId marker, mirroring
// claudecode_backend.go's scanner loop but fanned out to N entries
// instead of accumulated into one Result.
type ClaudeStreamJSON struct{}

func (ClaudeStreamJSON) NormalizeLogs(store *msgstore.Store) {
	sub := store.HistoryPlusStream()
	go func() {
		defer sub.Close()
		index := 0
		for {
			msg, ok := sub.Next()
			if !ok || msg.Kind == msgstore.KindFinished {
				return
			}
			if msg.Kind != msgstore.KindStdout {
				continue
			}
			for _, line := range splitLines(msg.Chunk) {
				entry, sessionID, ok := parseClaudeLine(line)
				if sessionID != "" {
					store.Push(msgstore.Message{Kind: msgstore.KindSessionID, SessionID: sessionID})
				}
				if !ok {
					continue
				}
				store.Push(msgstore.Message{Kind: msgstore.KindJSONPatch, Patch: []msgstore.PatchOp{
					{Op: "add", Path: patchPath(index), Value: entry},
				}})
				index++
			}
		}
	}()
}

func patchPath(index int) string {
	return "/entries/" + strconv.Itoa(index)
}

func splitLines(chunk []byte) [][]byte {
	scanner := bufio.NewScanner(bytes.NewReader(chunk))
	var out [][]byte
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		out = append(out, line)
	}
	return out
}

func parseClaudeLine(line []byte) (Entry, string, bool) {
	var event claudeEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return Entry{}, "", false
	}
	if event.Type != "assistant" || len(event.Message) == 0 {
		return Entry{}, event.SessionID, false
	}
	var msg claudeMessage
	if err := json.Unmarshal(event.Message, &msg); err != nil {
		return Entry{}, event.SessionID, false
	}
	entry := Entry{Type: "assistant_message", Role: "assistant"}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			entry.Text += block.Text
		case "tool_use":
			entry.Tool = block.Name
		}
	}
	if msg.Usage != nil {
		entry.Tokens = &TokenUsage{Input: msg.Usage.InputTokens, Output: msg.Usage.OutputTokens}
	}
	if entry.Text == "" && entry.Tool == "" {
		return Entry{}, event.SessionID, false
	}
	return entry, event.SessionID, true
}
