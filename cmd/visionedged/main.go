package main

import (
	"context"
	"log"
	"os"

	"visionedge/internal/daemonrun"
)

func main() {
	cfg, opts, err := bootstrap(os.Getenv("VISIONEDGE_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, opts); err != nil {
		log.Fatalf("visionedged: %v", err)
	}
}
