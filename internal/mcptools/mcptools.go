// Package mcptools serves VoxFix as a Model Context Protocol server so that
// assistants can check grammar and manage a user's correction history.
//
// Four tools are registered by [NewServer]:
//   - "check_grammar"       corrects a sentence and explains the changes.
//   - "list_history"        lists a user's saved corrections, newest first.
//   - "delete_history_item" deletes one saved correction by id.
//   - "clear_history"       deletes every saved correction of a user.
//
// Results are JSON text content. Tool failures are reported as tool results
// with IsError set, never as protocol errors.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxfix/internal/correction"
	"github.com/MrWong99/voxfix/internal/feedback"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/pkg/textdiff"
)

// serverName is reported to MCP clients during initialisation.
const serverName = "voxfix"

// Deps are the services the tools use. Corrector is required; without
// History the history tools are not registered.
type Deps struct {
	Corrector  correction.Client
	History    history.Store
	Classifier *feedback.Classifier
}

// CheckArgs is the input of "check_grammar".
type CheckArgs struct {
	Text string `json:"text" jsonschema:"the sentence to correct"`
}

// CheckResult is the output of "check_grammar".
type CheckResult struct {
	Original  string             `json:"original"`
	Corrected string             `json:"corrected"`
	Changed   bool               `json:"changed"`
	Diff      []textdiff.Segment `json:"diff"`
	Changes   []feedback.Change  `json:"changes"`
}

// EmailArgs selects a user's history.
type EmailArgs struct {
	Email string `json:"email" jsonschema:"the e-mail address the history belongs to"`
}

// ListResult is the output of "list_history".
type ListResult struct {
	Records []history.Record `json:"records"`
}

// DeleteArgs is the input of "delete_history_item".
type DeleteArgs struct {
	ID string `json:"id" jsonschema:"the id of the history record"`
}

// DeleteResult is the output of "delete_history_item".
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}

// ClearResult is the output of "clear_history".
type ClearResult struct {
	DeletedCount int `json:"deletedCount"`
}

// NewServer returns an MCP server with the VoxFix tools registered. Serve it
// with [mcp.Server.Run], for example over [mcp.StdioTransport].
func NewServer(d Deps, version string) *mcp.Server {
	if d.Classifier == nil {
		d.Classifier = feedback.New()
	}
	t := &toolset{deps: d}

	s := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "check_grammar",
		Description: "Correct the grammar of a sentence. Returns the corrected sentence, a word-level diff and a classified list of changes.",
	}, t.checkGrammar)

	if d.History == nil {
		return s
	}
	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_history",
		Description: fmt.Sprintf("List the saved corrections of a user, newest first, at most %d.", history.MaxListed),
	}, t.listHistory)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "delete_history_item",
		Description: "Delete one saved correction by id.",
	}, t.deleteHistoryItem)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "clear_history",
		Description: "Delete every saved correction of a user.",
	}, t.clearHistory)
	return s
}

type toolset struct {
	deps Deps
}

func (t *toolset) checkGrammar(ctx context.Context, _ *mcp.CallToolRequest, in CheckArgs) (*mcp.CallToolResult, any, error) {
	if err := correction.Validate(in.Text); err != nil {
		return nil, nil, describe(err)
	}
	corrected, err := t.deps.Corrector.Correct(ctx, in.Text)
	if err != nil {
		return nil, nil, describe(err)
	}
	corrected = strings.TrimSpace(corrected)
	segs := textdiff.Diff(in.Text, corrected)
	return jsonResult(CheckResult{
		Original:  in.Text,
		Corrected: corrected,
		Changed:   textdiff.Changed(segs),
		Diff:      segs,
		Changes:   t.deps.Classifier.SummarizeSegments(segs).Changes,
	})
}

func (t *toolset) listHistory(ctx context.Context, _ *mcp.CallToolRequest, in EmailArgs) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Email) == "" {
		return nil, nil, errors.New("email is required")
	}
	recs, err := t.deps.History.ListByUser(ctx, in.Email)
	if err != nil {
		return nil, nil, describe(err)
	}
	if recs == nil {
		recs = []history.Record{}
	}
	return jsonResult(ListResult{Records: recs})
}

func (t *toolset) deleteHistoryItem(ctx context.Context, _ *mcp.CallToolRequest, in DeleteArgs) (*mcp.CallToolResult, any, error) {
	if err := t.deps.History.DeleteOne(ctx, in.ID); err != nil {
		return nil, nil, describe(err)
	}
	return jsonResult(DeleteResult{Deleted: true})
}

func (t *toolset) clearHistory(ctx context.Context, _ *mcp.CallToolRequest, in EmailArgs) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Email) == "" {
		return nil, nil, errors.New("email is required")
	}
	n, err := t.deps.History.DeleteAllForUser(ctx, in.Email)
	if err != nil {
		return nil, nil, describe(err)
	}
	return jsonResult(ClearResult{DeletedCount: n})
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}, nil, nil
}

// describe turns domain errors into messages fit for a tool result.
func describe(err error) error {
	var ve *correction.ValidationError
	switch {
	case errors.As(err, &ve):
		return errors.New("text " + ve.Reason)
	case errors.Is(err, correction.ErrNoCorrectionReturned):
		return errors.New("the correction service returned no correction")
	case errors.Is(err, history.ErrInvalidID):
		return errors.New("invalid history id")
	case errors.Is(err, history.ErrNotFound):
		return errors.New("history item not found")
	default:
		return err
	}
}
