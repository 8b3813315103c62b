package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "ingestion.run", "run-1")
	_, scan := StartChildSpan(ctx, "scan")
	scan.SetAttr("files", 3)
	scan.End()
	_, parse := StartChildSpan(ctx, "parse")
	parse.End()
	root.End()

	children := root.Children()
	if len(children) != 2 || children[0].Name != "scan" || children[1].Name != "parse" {
		t.Fatalf("children = %v", children)
	}
	for _, c := range children {
		if c.TraceID != "run-1" {
			t.Errorf("%s: trace id %q", c.Name, c.TraceID)
		}
	}
	if FromContext(ctx) != root {
		t.Error("root span not in context")
	}

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	out := buf.String()
	if strings.Count(out, "msg=span") != 3 || !strings.Contains(out, "span=scan") || !strings.Contains(out, "files=3") {
		t.Errorf("log output:\n%s", out)
	}
}

func TestEndTwiceKeepsFirstDuration(t *testing.T) {
	_, s := StartSpan(context.Background(), "x", "")
	s.End()
	first := s.Duration
	s.End()
	if s.Duration != first {
		t.Errorf("duration changed from %v to %v", first, s.Duration)
	}
}

func TestChildWithoutParent(t *testing.T) {
	ctx, s := StartChildSpan(context.Background(), "orphan")
	if s.TraceID != "" || FromContext(ctx) != s {
		t.Errorf("orphan span = %+v", s)
	}
}
