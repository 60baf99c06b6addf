package registry

import (
	"errors"
	"fmt"
	"strings"

	"folio/internal/backend"
)

// ErrUnidentifiable marks a camera that reports neither an id path nor a
// location, so no index-independent identity can be derived.
var ErrUnidentifiable = errors.New("camera reports no stable identity")

// HardwareID derives the stable identity for a camera. The i2c bus segment of
// the vendor id path is preferred:
//
//	/base/axi/pcie@1000120000/rp1/i2c@88000/imx519@1a -> imx519_88000
//
// Without an i2c segment the last path segment is used, and without an id
// path the reported location. The camera index is never used.
func HardwareID(info backend.Info) (string, error) {
	model := strings.TrimSpace(info.Model)
	if model == "" {
		model = "unknown"
	}
	id := strings.Trim(strings.TrimSpace(info.ID), "/")
	if id != "" {
		parts := strings.Split(id, "/")
		for _, part := range parts {
			if bus, ok := strings.CutPrefix(part, "i2c@"); ok && bus != "" {
				return model + "_" + bus, nil
			}
		}
		return model + "_" + parts[len(parts)-1], nil
	}
	if loc := strings.TrimSpace(info.Location); loc != "" {
		return model + "_loc" + loc, nil
	}
	return "", fmt.Errorf("%s at index %d: %w", model, info.Index, ErrUnidentifiable)
}
