package encoder

import (
	"os"
	"testing"

	"gopkg.in/yaml.v2"
)

// YAMLOperation represents one operation spec from the YAML inventory
type YAMLOperation struct {
	Opcode int    `yaml:"opcode"`
	Name   string `yaml:"name"`
	Class  string `yaml:"class"`
	Arity  []int  `yaml:"arity"`
	Branch bool   `yaml:"branch"`
}

// YAMLSpec represents the root structure of instrs.yaml
type YAMLSpec struct {
	Operations []YAMLOperation `yaml:"operations"`
}

func TestOperationSpecValidation(t *testing.T) {
	data, err := os.ReadFile("../instrs.yaml")
	if err != nil {
		t.Fatalf("Error reading YAML file: %v", err)
	}

	var spec YAMLSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("Error parsing YAML: %v", err)
	}

	if len(spec.Operations) != int(opMax) {
		t.Errorf("instrs.yaml lists %d operations, Go tables define %d", len(spec.Operations), int(opMax))
	}

	seen := make(map[Op]bool)
	for _, yop := range spec.Operations {
		op := Op(yop.Opcode)
		if op >= opMax {
			t.Errorf("Opcode %d (%s) outside the Go vocabulary", yop.Opcode, yop.Name)
			continue
		}
		if seen[op] {
			t.Errorf("Opcode %d listed twice", yop.Opcode)
		}
		seen[op] = true

		if got := op.String(); got != yop.Name {
			t.Errorf("Opcode %d name mismatch - YAML: %s, Go: %s", yop.Opcode, yop.Name, got)
		}

		wantClass := "scalar"
		switch {
		case op.IsVector():
			wantClass = "vector"
		case op == JMP, op == CMJ, op == ARJ:
			wantClass = "control"
		}
		if yop.Class != wantClass {
			t.Errorf("Opcode %d (%s) class mismatch - YAML: %s, Go: %s", yop.Opcode, yop.Name, yop.Class, wantClass)
		}

		if len(yop.Arity) != 2 {
			t.Errorf("Opcode %d (%s) arity must be [min, max]", yop.Opcode, yop.Name)
			continue
		}
		min, max := op.arity()
		if yop.Arity[0] != min || yop.Arity[1] != max {
			t.Errorf("Opcode %d (%s) arity mismatch - YAML: [%d, %d], Go: [%d, %d]",
				yop.Opcode, yop.Name, yop.Arity[0], yop.Arity[1], min, max)
		}

		if yop.Branch != op.IsBranch() {
			t.Errorf("Opcode %d (%s) branch flag mismatch - YAML: %v, Go: %v", yop.Opcode, yop.Name, yop.Branch, op.IsBranch())
		}
	}
	for op := Op(0); op < opMax; op++ {
		if !seen[op] {
			t.Errorf("Opcode %d (%s) missing from instrs.yaml", int(op), op)
		}
	}
}
