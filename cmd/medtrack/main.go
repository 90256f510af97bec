package main

import (
	"context"
	"log"

	"github.com/mpoliveira/medtrack/internal/cli"
	"github.com/mpoliveira/medtrack/internal/config"
)

func main() {
	cfg := config.LoadConfig()

	ctx := context.Background()
	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(ctx)
}
