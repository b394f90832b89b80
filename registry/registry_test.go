package registry_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/itsuki-dev/mcp-sessions-go/mcp"
	"github.com/itsuki-dev/mcp-sessions-go/registry"
	"github.com/itsuki-dev/mcp-sessions-go/sessions"
)

func echoTool(name string) registry.Definition {
	return registry.Definition{
		Descriptor: mcp.Tool{Name: name},
		Handler: func(ctx context.Context, sess *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			return registry.TextResult(name), nil
		},
	}
}

func TestReplaceIsAtomicAndVersioned(t *testing.T) {
	reg := registry.New(echoTool("a"), echoTool("b"))
	defer reg.Close()

	if got := reg.Version(); got != 1 {
		t.Fatalf("initial version: want 1 got %d", got)
	}
	if got := len(reg.Snapshot()); got != 2 {
		t.Fatalf("snapshot length: want 2 got %d", got)
	}

	reg.Replace(echoTool("c"))
	if got := reg.Version(); got != 2 {
		t.Fatalf("version after replace: want 2 got %d", got)
	}
	snap := reg.Snapshot()
	if len(snap) != 1 || snap[0].Name != "c" {
		t.Fatalf("snapshot after replace: %+v", snap)
	}

	// Old tools are gone immediately; the new one resolves.
	if _, err := reg.Call(context.Background(), nil, &mcp.CallToolRequestReceived{Name: "a"}); !errors.Is(err, registry.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool for replaced tool, got %v", err)
	}
	res, err := reg.Call(context.Background(), nil, &mcp.CallToolRequestReceived{Name: "c"})
	if err != nil {
		t.Fatalf("call c: %v", err)
	}
	if res.Content[0].Text != "c" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSnapshotPreservesRegistrationOrder(t *testing.T) {
	reg := registry.New(echoTool("first"), echoTool("second"), echoTool("third"))
	defer reg.Close()

	snap := reg.Snapshot()
	want := []string{"first", "second", "third"}
	for i, name := range want {
		if snap[i].Name != name {
			t.Fatalf("snapshot[%d]: want %q got %q", i, name, snap[i].Name)
		}
	}
}

func TestReplaceSignalsSubscribers(t *testing.T) {
	reg := registry.New(echoTool("a"))
	defer reg.Close()

	sub := reg.Subscriber()
	reg.Replace(echoTool("b"))

	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("no change signal after Replace")
	}
}

func TestCallUnknownTool(t *testing.T) {
	reg := registry.New()
	defer reg.Close()

	_, err := reg.Call(context.Background(), nil, &mcp.CallToolRequestReceived{Name: "nope"})
	if !errors.Is(err, registry.ErrUnknownTool) {
		t.Fatalf("want ErrUnknownTool, got %v", err)
	}
}

func TestCallMissingName(t *testing.T) {
	reg := registry.New(echoTool("a"))
	defer reg.Close()

	if _, err := reg.Call(context.Background(), nil, &mcp.CallToolRequestReceived{}); err == nil {
		t.Fatal("expected error for missing tool name")
	}
}

func TestDuplicateNamesLastWriteWins(t *testing.T) {
	first := registry.Definition{
		Descriptor: mcp.Tool{Name: "dup"},
		Handler: func(ctx context.Context, sess *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			return registry.TextResult("first"), nil
		},
	}
	second := registry.Definition{
		Descriptor: mcp.Tool{Name: "dup"},
		Handler: func(ctx context.Context, sess *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			return registry.TextResult("second"), nil
		},
	}
	reg := registry.New(first, second)
	defer reg.Close()

	res, err := reg.Call(context.Background(), nil, &mcp.CallToolRequestReceived{Name: "dup"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Content[0].Text != "second" {
		t.Fatalf("want last handler to win, got %q", res.Content[0].Text)
	}
}

type addArgs struct {
	A int `json:"a" jsonschema:"required"`
	B int `json:"b" jsonschema:"required"`
}

func TestNewToolReflectsSchemaAndDecodes(t *testing.T) {
	def := registry.NewTool("add", func(ctx context.Context, sess *sessions.Session, args addArgs) (*mcp.CallToolResult, error) {
		return registry.TextResult("ok"), nil
	}, registry.WithDescription("adds numbers"))

	if def.Descriptor.Name != "add" {
		t.Fatalf("descriptor name: %q", def.Descriptor.Name)
	}
	if def.Descriptor.Description != "adds numbers" {
		t.Fatalf("descriptor description: %q", def.Descriptor.Description)
	}
	schema := def.Descriptor.InputSchema
	if schema.Type != "object" {
		t.Fatalf("schema type: %q", schema.Type)
	}
	if _, ok := schema.Properties["a"]; !ok {
		t.Fatalf("schema missing property a: %+v", schema.Properties)
	}
	if _, ok := schema.Properties["b"]; !ok {
		t.Fatalf("schema missing property b: %+v", schema.Properties)
	}

	res, err := def.Handler(context.Background(), nil, &mcp.CallToolRequestReceived{
		Name:      "add",
		Arguments: []byte(`{"a":1,"b":2}`),
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
}

func TestNewToolEnforcesRequiredFields(t *testing.T) {
	type greetArgs struct {
		Name string `json:"name" jsonschema:"required"`
	}
	def := registry.NewTool("greet", func(ctx context.Context, sess *sessions.Session, args greetArgs) (*mcp.CallToolResult, error) {
		return registry.TextResult("Hey " + args.Name + "!"), nil
	})
	reg := registry.New(def)
	defer reg.Close()

	// Empty arguments must not reach the handler as zero values.
	res, err := reg.Call(context.Background(), nil, &mcp.CallToolRequestReceived{
		Name:      "greet",
		Arguments: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected error result for empty arguments, got %+v", res)
	}
	if len(res.Content) == 0 || !strings.Contains(res.Content[0].Text, "missing required field") {
		t.Fatalf("unexpected content: %+v", res.Content)
	}

	// Absent arguments fail the same way.
	res, err = reg.Call(context.Background(), nil, &mcp.CallToolRequestReceived{Name: "greet"})
	if err != nil {
		t.Fatalf("call without arguments: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected error result for absent arguments, got %+v", res)
	}
}

func TestNewToolRejectsUnknownFields(t *testing.T) {
	def := registry.NewTool("add", func(ctx context.Context, sess *sessions.Session, args addArgs) (*mcp.CallToolResult, error) {
		return registry.TextResult("ok"), nil
	})

	res, err := def.Handler(context.Background(), nil, &mcp.CallToolRequestReceived{
		Name:      "add",
		Arguments: []byte(`{"a":1,"b":2,"bogus":true}`),
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected error result for unknown field, got %+v", res)
	}
}

func TestRotatorReplacesOnTick(t *testing.T) {
	reg := registry.New(echoTool("start"))
	defer reg.Close()

	rot := registry.NewRotator(reg, 10*time.Millisecond, func() []registry.Definition {
		return []registry.Definition{echoTool("rotated")}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rot.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := reg.Snapshot()
		if len(snap) == 1 && snap[0].Name == "rotated" {
			if reg.Version() < 2 {
				t.Fatalf("rotation did not bump version: %d", reg.Version())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("rotator never replaced the tool set")
}

func TestProgressReporterRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := registry.ProgressFrom(ctx); ok {
		t.Fatal("unexpected reporter on bare context")
	}

	var got []string
	ctx = registry.WithProgressReporter(ctx, reporterFunc(func(ctx context.Context, progress, total float64, message string) error {
		got = append(got, message)
		return nil
	}))

	pr, ok := registry.ProgressFrom(ctx)
	if !ok {
		t.Fatal("reporter not found on context")
	}
	if err := pr.Report(ctx, 1, 2, "step one"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(got) != 1 || got[0] != "step one" {
		t.Fatalf("unexpected reports: %v", got)
	}
}

type reporterFunc func(ctx context.Context, progress, total float64, message string) error

func (f reporterFunc) Report(ctx context.Context, progress, total float64, message string) error {
	return f(ctx, progress, total, message)
}
