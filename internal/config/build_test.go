package config

import (
	"testing"

	"github.com/edgegate/edgegate/internal/pipeline"
)

func TestBuilderDeclarations(t *testing.T) {
	t.Setenv("TEST_SUB_KEY", "sub-abc")

	cfg, err := NewLoader().Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	decls, err := NewBuilder(cfg).Declarations(cfg.Policies)
	if err != nil {
		t.Fatalf("Declarations: %v", err)
	}

	global := decls.Global[pipeline.StageInbound]
	if len(global) != 1 {
		t.Fatalf("global inbound statements = %d", len(global))
	}
	if global[0].Policy == nil || global[0].Policy.Name() != "cors" {
		t.Fatalf("global inbound[0] = %+v", global[0])
	}

	api := decls.APIs["cars-api"]
	if api == nil {
		t.Fatal("cars-api scope missing")
	}
	inbound := api.Stages[pipeline.StageInbound]
	if len(inbound) != 2 {
		t.Fatalf("api inbound statements = %d", len(inbound))
	}
	if !inbound[0].Base {
		t.Error("api inbound[0] should be a base marker")
	}
	if inbound[1].Policy == nil || inbound[1].Policy.Name() != "rate-limit" {
		t.Errorf("api inbound[1] = %+v", inbound[1])
	}

	op := api.Operations["get-car"]
	if op == nil {
		t.Fatal("get-car scope missing")
	}
	backendStage := op[pipeline.StageBackend]
	if len(backendStage) != 1 || backendStage[0].Policy.Name() != "mock-response" {
		t.Fatalf("get-car backend = %+v", backendStage)
	}
}

func TestBuilderChoose(t *testing.T) {
	doc := `
policies:
  global:
    inbound:
      - choose:
          when:
            - condition: 'Method == "GET"'
              then:
                - set_header:
                    name: X-Read-Only
                    value: "true"
          otherwise:
            - trace:
                message: write path
`
	cfg, err := NewLoader().Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	decls, err := NewBuilder(cfg).Declarations(cfg.Policies)
	if err != nil {
		t.Fatalf("Declarations: %v", err)
	}

	stmts := decls.Global[pipeline.StageInbound]
	if len(stmts) != 1 || stmts[0].Policy.Name() != "choose" {
		t.Fatalf("global inbound = %+v", stmts)
	}
}

func TestBuilderRejectsBadExpression(t *testing.T) {
	doc := `
policies:
  global:
    inbound:
      - choose:
          when:
            - condition: 'Method =='
              then: []
`
	cfg, err := NewLoader().Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := NewBuilder(cfg).Declarations(cfg.Policies); err == nil {
		t.Fatal("expected compile error for malformed condition")
	}
}

func TestBuilderRejectsBaseInsideChoose(t *testing.T) {
	doc := `
policies:
  global:
    inbound:
      - choose:
          when:
            - condition: 'true'
              then:
                - base: true
`
	cfg, err := NewLoader().Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := NewBuilder(cfg).Declarations(cfg.Policies); err == nil {
		t.Fatal("expected error for base marker inside choose branch")
	}
}
