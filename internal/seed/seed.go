// Package seed carries the curated reference library dataset used to
// repopulate the acts and sections tables.
package seed

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"lokvidhi/api/internal/store"
)

//go:embed dataset.json
var datasetJSON []byte

// Dataset decodes the embedded library dataset.
func Dataset() ([]store.SeedAct, error) {
	var acts []store.SeedAct
	if err := json.Unmarshal(datasetJSON, &acts); err != nil {
		return nil, fmt.Errorf("decode seed dataset: %w", err)
	}
	return acts, nil
}
