package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how structured command output is rendered
type OutputFormat string

const (
	OutputText       OutputFormat = "text"
	OutputJSONFormat OutputFormat = "json"
	OutputYAMLFormat OutputFormat = "yaml"
)

// ParseOutputFormat validates the value of an -o/--output flag
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSONFormat, OutputYAMLFormat:
		return f, nil
	}
	return "", fmt.Errorf("invalid output format %q (expected text, json or yaml)", s)
}

// OutputJSON marshals the provided data as indented JSON and prints it to stdout.
func OutputJSON(data interface{}) error {
	return WriteJSON(os.Stdout, data)
}

// OutputYAML marshals the provided data as YAML and prints it to stdout.
func OutputYAML(data interface{}) error {
	return WriteYAML(os.Stdout, data)
}

// WriteJSON writes data as indented JSON followed by a newline
func WriteJSON(w io.Writer, data interface{}) error {
	jsonData, err := MarshalJSON(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

// WriteYAML writes data as YAML
func WriteYAML(w io.Writer, data interface{}) error {
	yamlData, err := MarshalYAML(data)
	if err != nil {
		return err
	}
	_, err = w.Write(yamlData)
	return err
}

// MarshalJSON marshals the provided data as indented JSON.
func MarshalJSON(data interface{}) ([]byte, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return jsonData, nil
}

// MarshalYAML marshals the provided data as YAML.
func MarshalYAML(data interface{}) ([]byte, error) {
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return yamlData, nil
}
