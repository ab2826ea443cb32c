package checkpoint_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"veritect/internal/checkpoint"
	"veritect/internal/nn"
)

func params() []*nn.Param {
	return []*nn.Param{
		{Name: "fusion.gate.weight", Shape: []int{2, 4}, Data: []float64{1, 2, 3, 4, 5, 6, 7, 8}},
		{Name: "fusion.gate.bias", Shape: []int{2}, Data: []float64{0.1, 0.2}},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt", "best.json")
	saved := params()
	env := &checkpoint.Envelope{
		Epoch:      7,
		ModelState: checkpoint.Capture(saved),
		BestValAUC: 0.91,
	}
	if err := checkpoint.Save(path, env); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := checkpoint.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Epoch != 7 || loaded.BestValAUC != 0.91 {
		t.Fatalf("bookkeeping lost: %+v", loaded)
	}

	restored := params()
	for _, p := range restored {
		for i := range p.Data {
			p.Data[i] = 0
		}
	}
	applied, skipped := checkpoint.Apply(loaded.ModelState, restored)
	if applied != 2 || len(skipped) != 0 {
		t.Fatalf("applied %d, skipped %v", applied, skipped)
	}
	if restored[0].Data[3] != 4 || restored[1].Data[1] != 0.2 {
		t.Fatalf("restored values wrong: %v %v", restored[0].Data, restored[1].Data)
	}
}

func TestLoadAcceptsLegacyLayouts(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bare.json":   `{"fusion.gate.bias":{"shape":[2],"data":[0.5,0.6]}}`,
		"nested.json": `{"epoch":3,"model_state_dict":{"fusion.gate.bias":{"shape":[2],"data":[0.5,0.6]}}}`,
		"legacy.json": `{"state_dict":{"fusion.gate.bias":{"shape":[2],"data":[0.5,0.6]}}}`,
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		state, err := checkpoint.LoadModelState(path)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		tensor, ok := state["fusion.gate.bias"]
		if !ok || len(tensor.Data) != 2 || tensor.Data[0] != 0.5 {
			t.Fatalf("%s: state not recovered: %+v", name, state)
		}
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"scalar.json": `42`,
		"empty.json":  `{}`,
		"wrong.json":  `{"weights":[1,2,3]}`,
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := checkpoint.Load(path); !errors.Is(err, checkpoint.ErrCheckpointFormat) {
			t.Fatalf("%s: expected ErrCheckpointFormat, got %v", name, err)
		}
	}
}

func TestApplySkipsMismatchedTensors(t *testing.T) {
	state := checkpoint.State{
		"fusion.gate.weight": {Shape: []int{2, 3}, Data: []float64{1, 2, 3, 4, 5, 6}}, // shape changed
		"fusion.gate.bias":   {Shape: []int{2}, Data: []float64{9, 9}},
	}
	target := params()
	applied, skipped := checkpoint.Apply(state, target)
	if applied != 1 {
		t.Fatalf("applied %d tensors, expected 1", applied)
	}
	if len(skipped) != 1 || skipped[0] != "fusion.gate.weight" {
		t.Fatalf("skipped %v", skipped)
	}
	if target[0].Data[0] != 1 {
		t.Fatal("mismatched tensor was applied")
	}
	if target[1].Data[0] != 9 {
		t.Fatal("matching tensor was not applied")
	}
}
