package commands

import (
	"encoding/json"
	"fmt"
)

func printJSON(v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}
	fmt.Println(string(raw))
	return nil
}
