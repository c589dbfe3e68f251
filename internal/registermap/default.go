// internal/registermap/default.go
package registermap

import (
	_ "embed"
)

//go:embed pasd.yaml
var defaultMap []byte

// Default loads the register map compiled into the binary.
func Default() (*Catalog, error) {
	return Load(defaultMap)
}
