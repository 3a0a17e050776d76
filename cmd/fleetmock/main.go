package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/fleetsync/internal/buildinfo"
	"github.com/dmitrijs2005/fleetsync/internal/fleetmock"
	"github.com/dmitrijs2005/fleetsync/internal/fleetmock/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := fleetmock.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
