package modern

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// SaveReportJSON writes a _balanced.json report plus its .version marker.
// It does not print anything; callers surface errors themselves.
func SaveReportJSON(path string, r *Report) error {
	if r == nil {
		return fmt.Errorf("report nil")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	verFile := strings.TrimSuffix(path, ".json") + ".version"
	_ = os.WriteFile(verFile, []byte("rotorbalance local\n"), 0644)
	return nil
}
