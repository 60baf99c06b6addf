// Command foliod runs the folio capture daemon with the default configuration.
// It is equivalent to "folio daemon run".
package main

import (
	"context"
	"log"

	"folio/internal/config"
	"folio/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("foliod: %v", err)
	}
}
