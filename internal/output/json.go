package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/crucible/api/v1alpha1"
)

// JSONFormatter formats machine status as JSON.
type JSONFormatter struct{}

// FormatStatus formats a single machine as a JSON object.
func (f *JSONFormatter) FormatStatus(st v1alpha1.MachineStatus) (string, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

// FormatStatusList formats machines as a JSON array.
func (f *JSONFormatter) FormatStatusList(sts []v1alpha1.MachineStatus) (string, error) {
	if len(sts) == 0 {
		return "[]\n", nil
	}
	data, err := json.MarshalIndent(sts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status list to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
