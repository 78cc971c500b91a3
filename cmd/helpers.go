// -- cmd/helpers.go --
package cmd

import (
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonIndent pretty-prints a value for terminal output.
func jsonIndent(v any) (string, error) {
	b, err := jsonAPI.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
