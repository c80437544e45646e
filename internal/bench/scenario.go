package bench

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"asinresolve/internal/lookup"
	"asinresolve/internal/services"
)

// Scenario is a named, fixed list of requests.
type Scenario struct {
	Name     string           `json:"name"`
	Requests []lookup.Request `json:"requests"`
	// Workers caps batch concurrency; zero uses the pool size.
	Workers int `json:"workers,omitempty"`
}

// LoadScenario reads a JSON scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return Scenario{}, services.Wrap(services.ErrInvalidRequest, "bench", "load scenario", path, err)
	}
	if strings.TrimSpace(sc.Name) == "" {
		sc.Name = strings.TrimSuffix(baseName(path), ".json")
	}
	for i, req := range sc.Requests {
		sc.Requests[i] = req.Normalized()
	}
	return sc, sc.validate()
}

func (s Scenario) validate() error {
	if len(s.Requests) == 0 {
		return services.Wrap(services.ErrInvalidRequest, "bench", "scenario", "scenario has no requests", nil)
	}
	for i, req := range s.Requests {
		if !req.Valid() {
			return services.Wrap(services.ErrInvalidRequest, "bench", "scenario", fmt.Sprintf("request %d needs a title or ISBN", i), nil)
		}
	}
	return nil
}

func baseName(path string) string {
	if idx := strings.LastIndexAny(path, `/\`); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
