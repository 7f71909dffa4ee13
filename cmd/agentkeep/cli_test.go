package main

import (
	"bytes"
	"strings"
	"testing"
)

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootHelpListsSubcommands(t *testing.T) {
	output, err := runRootCommandForTest("--help")
	if err != nil {
		t.Fatalf("help: %v\nOutput:\n%s", err, output)
	}
	for _, name := range []string{"shell", "run", "ingest", "history", "memory", "compress", "secret", "profile", "clear", "status"} {
		if !strings.Contains(output, name) {
			t.Errorf("help output missing %q", name)
		}
	}
}

func TestRootWithoutSubcommandFails(t *testing.T) {
	_, err := runRootCommandForTest()
	if err == nil {
		t.Fatal("bare invocation should require a subcommand")
	}
}

func TestIngestRejectsBadRole(t *testing.T) {
	_, err := runRootCommandForTest("ingest", "--role", "robot", "hello")
	if err == nil || !strings.Contains(err.Error(), "role must be") {
		t.Fatalf("expected role validation error, got %v", err)
	}
}

func TestClearValidatesTarget(t *testing.T) {
	_, err := runRootCommandForTest("clear", "everything")
	if err == nil {
		t.Fatal("expected invalid clear target to fail")
	}
}
