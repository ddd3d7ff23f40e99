// SPDX-License-Identifier: MIT

package api

import (
	_ "embed"
	"net/http"
)

// specDocument is the adapter contract, shipped inside the binary so a
// deployment never serves a stale copy.
//
//go:embed openapi.yaml
var specDocument []byte

// serveSpec returns the embedded OpenAPI document.
func serveSpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(specDocument)
}
