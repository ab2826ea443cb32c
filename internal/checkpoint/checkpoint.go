package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"veritect/internal/nn"
)

// ErrCheckpointFormat is returned when a file matches none of the supported
// envelope layouts.
var ErrCheckpointFormat = errors.New("unrecognized checkpoint format")

// Tensor is one named parameter's shape and flattened values.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// State maps parameter names to tensors.
type State map[string]Tensor

// Envelope is the layout Save writes: model state under "model_state_dict"
// alongside run bookkeeping.
type Envelope struct {
	Epoch          int             `json:"epoch"`
	ModelState     State           `json:"model_state_dict"`
	OptimizerState json.RawMessage `json:"optimizer_state_dict,omitempty"`
	BestValAUC     float64         `json:"best_val_auc"`
}

// Capture snapshots the current parameter values into a State.
func Capture(params []*nn.Param) State {
	state := make(State, len(params))
	for _, p := range params {
		data := make([]float64, len(p.Data))
		copy(data, p.Data)
		state[p.Name] = Tensor{Shape: append([]int{}, p.Shape...), Data: data}
	}
	return state
}

// Apply copies matching tensors into the parameters, returning how many were
// applied and the names that were skipped for missing or mismatched entries.
func Apply(state State, params []*nn.Param) (applied int, skipped []string) {
	for _, p := range params {
		tensor, ok := state[p.Name]
		if !ok || len(tensor.Data) != len(p.Data) || !shapesEqual(tensor.Shape, p.Shape) {
			skipped = append(skipped, p.Name)
			continue
		}
		copy(p.Data, tensor.Data)
		applied++
	}
	return applied, skipped
}

// Save writes the envelope atomically next to its final path.
func Save(path string, env *Envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint file and returns its envelope. Files produced by
// earlier formats are accepted: a bare state map, or state nested under
// "model_state_dict" or "state_dict".
func Load(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	env, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return env, nil
}

// LoadModelState is Load narrowed to the model tensors.
func LoadModelState(path string) (State, error) {
	env, err := Load(path)
	if err != nil {
		return nil, err
	}
	return env.ModelState, nil
}

func decode(data []byte) (*Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointFormat, err)
	}

	for _, key := range []string{"model_state_dict", "state_dict"} {
		nested, ok := raw[key]
		if !ok {
			continue
		}
		var state State
		if err := json.Unmarshal(nested, &state); err != nil || !looksLikeState(state) {
			return nil, fmt.Errorf("%w: invalid %s", ErrCheckpointFormat, key)
		}
		env := &Envelope{ModelState: state}
		if epoch, ok := raw["epoch"]; ok {
			json.Unmarshal(epoch, &env.Epoch)
		}
		if auc, ok := raw["best_val_auc"]; ok {
			json.Unmarshal(auc, &env.BestValAUC)
		}
		if opt, ok := raw["optimizer_state_dict"]; ok {
			env.OptimizerState = opt
		}
		return env, nil
	}

	// Oldest layout: the file is the state map itself.
	var state State
	if err := json.Unmarshal(data, &state); err == nil && looksLikeState(state) {
		return &Envelope{ModelState: state}, nil
	}
	return nil, ErrCheckpointFormat
}

// looksLikeState rejects maps that parsed as State only because every field
// happened to be absent or empty.
func looksLikeState(state State) bool {
	if len(state) == 0 {
		return false
	}
	for _, tensor := range state {
		if len(tensor.Data) == 0 {
			return false
		}
	}
	return true
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
