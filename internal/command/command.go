// Package command decodes the tool calls a model may request and runs them against the logs.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"lograg/internal/domain"
	"lograg/internal/llm"
	"lograg/internal/metrics"
	"lograg/internal/rag"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidArgs    = errors.New("invalid command arguments")
)

// Command is one of AskLogs or SearchLogs.
type Command interface {
	Name() string
	command()
}

// AskLogs answers a free-form question about the logs.
type AskLogs struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// SearchLogs finds entries of a severity, optionally only in files matching a glob pattern.
type SearchLogs struct {
	Severity string `json:"severity,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
}

func (AskLogs) Name() string    { return "ask_logs" }
func (SearchLogs) Name() string { return "search_logs" }
func (AskLogs) command()        {}
func (SearchLogs) command()     {}

// Tools describes the commands to a function-calling model.
func Tools() []llm.ToolDescriptor {
	return []llm.ToolDescriptor{
		{
			Name:        AskLogs{}.Name(),
			Description: "Answer a question about the application logs",
			Parameters:  `{"type":"object","properties":{"question":{"type":"string","description":"The question to answer"},"k":{"type":"integer","description":"How many log entries to consider"}},"required":["question"]}`,
		},
		{
			Name:        SearchLogs{}.Name(),
			Description: "Find or search logs of a specified severity and file pattern",
			Parameters:  `{"type":"object","properties":{"severity":{"type":"string","description":"A type or level or severity of log. Example: ERROR, WARN, WARNING, INFO, DEBUG, SEVERE or ALL"},"pattern":{"type":"string","description":"Glob pattern for log file names. Example: *, *.log"}}}`,
		},
	}
}

// Decode turns a tool call into a typed command.
func Decode(name, args string) (Command, error) {
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	switch name {
	case "ask_logs":
		var c AskLogs
		if err := json.Unmarshal([]byte(args), &c); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgs, name, err)
		}
		if strings.TrimSpace(c.Question) == "" {
			return nil, fmt.Errorf("%w: %s: question is required", ErrInvalidArgs, name)
		}
		if c.K < 0 {
			return nil, fmt.Errorf("%w: %s: k must be positive", ErrInvalidArgs, name)
		}
		return c, nil
	case "search_logs":
		var c SearchLogs
		if err := json.Unmarshal([]byte(args), &c); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgs, name, err)
		}
		if c.Pattern != "" {
			if _, err := filepath.Match(c.Pattern, ""); err != nil {
				return nil, fmt.Errorf("%w: %s: pattern %q: %v", ErrInvalidArgs, name, c.Pattern, err)
			}
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

// Dispatcher runs commands with the query engine.
type Dispatcher struct {
	engine  *rag.Engine
	logger  *slog.Logger
	metrics *metrics.Recorder
	// k is the retrieval size used when a command does not name one; zero defers to the engine.
	k int
}

func NewDispatcher(engine *rag.Engine, logger *slog.Logger, m *metrics.Recorder) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{engine: engine, logger: logger, metrics: m}
}

// WithK sets how many entries commands retrieve when the model does not say.
func (d *Dispatcher) WithK(k int) *Dispatcher {
	d.k = k
	return d
}

// Dispatch runs cmd. onToken, when set, receives the streamed answer of AskLogs.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command, onToken domain.TokenHandler) (res *domain.RetrievalResult, err error) {
	defer func() { d.metrics.RecordToolCall(cmd.Name(), err == nil) }()
	d.logger.Debug("dispatching command", "command", cmd.Name())

	switch c := cmd.(type) {
	case AskLogs:
		k := c.K
		if k == 0 {
			k = d.k
		}
		return d.engine.Ask(ctx, rag.Request{Question: c.Question, K: k, Stream: onToken != nil, OnToken: onToken})
	case SearchLogs:
		return d.search(ctx, c)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

// Route offers the commands to a function-calling model and runs the first call it requests.
// A plain text reply is returned as the answer.
func (d *Dispatcher) Route(ctx context.Context, caller llm.ToolCaller, question string, opts llm.Options, onToken domain.TokenHandler) (*domain.RetrievalResult, error) {
	content, calls, err := caller.CompleteWithTools(ctx, question, opts, Tools())
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		if onToken != nil && content != "" {
			onToken(content)
		}
		return &domain.RetrievalResult{Answer: content}, nil
	}
	cmd, err := Decode(calls[0].Name, calls[0].Arguments)
	if err != nil {
		return nil, err
	}
	d.logger.Info("model requested command", "command", cmd.Name(), "args", calls[0].Arguments)
	return d.Dispatch(ctx, cmd, onToken)
}

func (d *Dispatcher) search(ctx context.Context, c SearchLogs) (*domain.RetrievalResult, error) {
	severity := strings.ToUpper(strings.TrimSpace(c.Severity))
	if severity == "ALL" {
		severity = ""
	}
	question := "log entries"
	if severity != "" {
		question = severity + " log entries"
	}
	candidates, err := d.engine.Retrieve(ctx, question, d.k)
	if err != nil {
		return nil, err
	}

	var sevRe *regexp.Regexp
	if severity != "" {
		sevRe = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(severity) + `\b`)
	}
	var matched []domain.SearchResult
	for _, r := range candidates {
		if sevRe != nil && !sevRe.MatchString(r.Entry.Text) {
			continue
		}
		if c.Pattern != "" {
			if ok, _ := filepath.Match(c.Pattern, r.Entry.Metadata.FileName); !ok {
				continue
			}
		}
		matched = append(matched, r)
	}
	return &domain.RetrievalResult{Answer: summarize(c, len(matched)), Sources: matched}, nil
}

func summarize(c SearchLogs, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d log entries", n)
	if c.Severity != "" && !strings.EqualFold(c.Severity, "ALL") {
		fmt.Fprintf(&b, " with severity %s", strings.ToUpper(c.Severity))
	}
	if c.Pattern != "" {
		fmt.Fprintf(&b, " in files matching %s", c.Pattern)
	}
	b.WriteString(".")
	return b.String()
}
