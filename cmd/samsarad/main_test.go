package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunDispatch(t *testing.T) {
	called := 0
	old := startServer
	startServer = func() { called++ }
	defer func() { startServer = old }()

	var stdout, stderr bytes.Buffer

	if code := Run([]string{"samsarad"}, &stdout, &stderr); code != 0 {
		t.Fatalf("bare invocation: exit %d", code)
	}
	if code := Run([]string{"samsarad", "serve"}, &stdout, &stderr); code != 0 {
		t.Fatalf("serve: exit %d", code)
	}
	if called != 2 {
		t.Fatalf("expected server started twice, got %d", called)
	}

	if code := Run([]string{"samsarad", "help"}, &stdout, &stderr); code != 0 {
		t.Fatalf("help: exit %d", code)
	}
	if !strings.Contains(stdout.String(), "samsarad <command>") {
		t.Fatal("usage text missing")
	}

	if code := Run([]string{"samsarad", "moksha"}, &stdout, &stderr); code != 2 {
		t.Fatalf("unknown command: exit %d", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command") {
		t.Fatal("unknown command message missing")
	}
}

func TestVerifyRequiresIdentity(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runVerifyCmd(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "--identity is required") {
		t.Fatal("missing flag error not printed")
	}
}

func TestExportRequiresFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runExportCmd([]string{"--identity", "id-1"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "--out") {
		t.Fatal("missing flag error not printed")
	}
}
