// Package mcpserver exposes ander's command table, home layout and voice
// sessions as Model Context Protocol tools, so assistants can drive the home
// the same way a spoken command does.
//
// Tools:
//
//   - list_commands: the owner's voice commands, optionally by category.
//   - run_voice_command: runs a typed transcript through a voice session.
//   - get_home: the owner's rooms and safety systems.
//   - set_appliance: toggles an appliance's status or auto mode.
//
// Every tool takes an optional owner; the server default applies when it is
// empty. The server is served over streamable HTTP via [Server.Handler] or
// over stdio via [Server.RunStdio].
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/ander/internal/command"
	"github.com/MrWong99/ander/internal/event"
	"github.com/MrWong99/ander/internal/home"
	"github.com/MrWong99/ander/internal/session"
)

// Implementation identifies the server to clients.
var Implementation = &mcpsdk.Implementation{Name: "ander", Version: "1.0.0"}

// Deps holds the stores and services the tools use.
type Deps struct {
	Commands     command.Store
	Rooms        home.Rooms
	Systems      home.SafetySystems
	Sessions     *session.Manager
	Events       event.Publisher
	DefaultOwner string
}

// Server is the MCP tool server.
type Server struct {
	d   Deps
	srv *mcpsdk.Server
}

// New creates a Server with all tools registered.
func New(d Deps) *Server {
	s := &Server{d: d, srv: mcpsdk.NewServer(Implementation, nil)}

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "list_commands",
		Description: "List the voice commands configured for a home owner.",
	}, s.listCommands)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "run_voice_command",
		Description: "Run a typed transcript as a voice command and return the session outcome.",
	}, s.runVoiceCommand)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "get_home",
		Description: "Return the rooms, appliances and safety systems of a home owner.",
	}, s.getHome)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "set_appliance",
		Description: "Switch an appliance on or off, or change its auto mode.",
	}, s.setAppliance)
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.srv }

// Handler returns an HTTP handler serving the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

// RunStdio serves a single client on stdin/stdout until ctx is cancelled or
// the client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	if err := s.srv.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcpserver: stdio: %w", err)
	}
	return nil
}

func (s *Server) owner(o string) string {
	if o = strings.TrimSpace(o); o != "" {
		return o
	}
	return s.d.DefaultOwner
}

// ── tool inputs ──

type listCommandsInput struct {
	Owner    string `json:"owner,omitempty" jsonschema:"home owner; the server default when empty"`
	Category string `json:"category,omitempty" jsonschema:"only commands of this category"`
}

type runVoiceCommandInput struct {
	Owner      string `json:"owner,omitempty" jsonschema:"home owner; the server default when empty"`
	Transcript string `json:"transcript" jsonschema:"what the user said"`
}

type getHomeInput struct {
	Owner string `json:"owner,omitempty" jsonschema:"home owner; the server default when empty"`
}

type setApplianceInput struct {
	Owner       string `json:"owner,omitempty" jsonschema:"home owner; the server default when empty"`
	RoomID      string `json:"room_id" jsonschema:"id of the room holding the appliance"`
	ApplianceID string `json:"appliance_id" jsonschema:"id of the appliance within the room"`
	Status      *bool  `json:"status,omitempty" jsonschema:"true switches the appliance on"`
	AutoMode    *bool  `json:"auto_mode,omitempty" jsonschema:"true enables automatic control"`
}

// homeView is the result of get_home.
type homeView struct {
	Rooms         []home.Room         `json:"rooms"`
	SafetySystems []home.SafetySystem `json:"safety_systems"`
}

// ── handlers ──

func (s *Server) listCommands(ctx context.Context, _ *mcpsdk.CallToolRequest, in listCommandsInput) (*mcpsdk.CallToolResult, any, error) {
	cmds, err := s.d.Commands.List(ctx, s.owner(in.Owner))
	if err != nil {
		return nil, nil, fmt.Errorf("list commands: %w", err)
	}
	out := make([]command.Command, 0, len(cmds))
	for _, c := range cmds {
		if in.Category == "" || c.Category == in.Category {
			out = append(out, c)
		}
	}
	return jsonResult(out)
}

func (s *Server) runVoiceCommand(ctx context.Context, _ *mcpsdk.CallToolRequest, in runVoiceCommandInput) (*mcpsdk.CallToolResult, any, error) {
	if strings.TrimSpace(in.Transcript) == "" {
		return errorResult("transcript is required"), nil, nil
	}
	if s.d.Sessions == nil {
		return errorResult("voice sessions are not available"), nil, nil
	}
	out, err := s.d.Sessions.Run(ctx, s.owner(in.Owner), session.Trigger{Transcript: in.Transcript})
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return jsonResult(out)
}

func (s *Server) getHome(ctx context.Context, _ *mcpsdk.CallToolRequest, in getHomeInput) (*mcpsdk.CallToolResult, any, error) {
	owner := s.owner(in.Owner)
	rooms, err := s.d.Rooms.Filter(ctx, owner)
	if err != nil {
		return nil, nil, fmt.Errorf("get home: %w", err)
	}
	systems, err := s.d.Systems.Filter(ctx, owner, "")
	if err != nil {
		return nil, nil, fmt.Errorf("get home: %w", err)
	}
	v := homeView{Rooms: rooms, SafetySystems: systems}
	if v.Rooms == nil {
		v.Rooms = []home.Room{}
	}
	if v.SafetySystems == nil {
		v.SafetySystems = []home.SafetySystem{}
	}
	return jsonResult(v)
}

func (s *Server) setAppliance(ctx context.Context, _ *mcpsdk.CallToolRequest, in setApplianceInput) (*mcpsdk.CallToolResult, any, error) {
	owner := s.owner(in.Owner)
	a, err := home.SetAppliance(ctx, s.d.Rooms, owner, in.RoomID, in.ApplianceID,
		home.AppliancePatch{Status: in.Status, AutoMode: in.AutoMode})
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if s.d.Events != nil {
		s.d.Events.Publish(ctx, event.Event{Kind: event.StateChanged, Owner: owner, At: time.Now()})
	}
	return jsonResult(a)
}

// ── results ──

func jsonResult(v any) (*mcpsdk.CallToolResult, any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
	}, nil, nil
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
	}
}
