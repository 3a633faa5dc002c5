package classifier

import (
	"encoding/json"
	"fmt"
	"os"
)

// ModelTypeLogistic is the only parameter family this scorer evaluates:
// standardized features through a linear margin and a sigmoid link.
const ModelTypeLogistic = "logistic"

// Model is an immutable, versioned set of classifier parameters. It is loaded
// once at process start and shared read-only across all requests; nothing may
// mutate it after Load returns.
type Model struct {
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	Features  []string  `json:"features"`
	Means     []float64 `json:"means"`
	Scales    []float64 `json:"scales"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// Load reads and validates a model parameter document from disk.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model parameters: %w", err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to parse model parameters: %w", err)
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model parameters in %s: %w", path, err)
	}
	return &model, nil
}

// Validate checks the internal consistency of the parameter document.
func (m *Model) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("model version is required")
	}
	if m.Type != ModelTypeLogistic {
		return fmt.Errorf("unsupported model type %q", m.Type)
	}
	n := len(m.Features)
	if n == 0 {
		return fmt.Errorf("model declares no features")
	}
	if len(m.Weights) != n {
		return fmt.Errorf("model has %d features but %d weights", n, len(m.Weights))
	}
	if len(m.Means) != n {
		return fmt.Errorf("model has %d features but %d means", n, len(m.Means))
	}
	if len(m.Scales) != n {
		return fmt.Errorf("model has %d features but %d scales", n, len(m.Scales))
	}
	for i, s := range m.Scales {
		if s == 0 {
			return fmt.Errorf("feature %q has zero scale", m.Features[i])
		}
	}
	return nil
}

// VerifyVersion checks the loaded model against the version pinned in
// configuration. An empty pin accepts any version.
func (m *Model) VerifyVersion(pin string) error {
	if pin == "" || pin == m.Version {
		return nil
	}
	return fmt.Errorf("model version %q does not match pinned version %q", m.Version, pin)
}
