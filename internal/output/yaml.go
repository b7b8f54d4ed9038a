package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/crucible/api/v1alpha1"
)

// YAMLFormatter formats machine status as YAML.
type YAMLFormatter struct{}

// FormatStatus formats a single machine as a YAML document.
func (f *YAMLFormatter) FormatStatus(st v1alpha1.MachineStatus) (string, error) {
	data, err := yaml.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("failed to marshal status to YAML: %w", err)
	}
	return string(data), nil
}

// FormatStatusList formats machines as a YAML stream, one document per
// machine.
func (f *YAMLFormatter) FormatStatusList(sts []v1alpha1.MachineStatus) (string, error) {
	var buf bytes.Buffer
	for i, st := range sts {
		data, err := yaml.Marshal(st)
		if err != nil {
			return "", fmt.Errorf("failed to marshal status of %s to YAML: %w", st.Machine, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.String(), nil
}
