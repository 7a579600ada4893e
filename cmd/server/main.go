package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/mediasync/internal/flagx"
	"github.com/dmitrijs2005/mediasync/internal/server"
	"github.com/dmitrijs2005/mediasync/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	mode := flagx.Mode(os.Args[1:], server.ModeServe, server.Modes...)
	task := server.ParseTask(os.Args[1:])

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	err = app.Run(ctx, mode, task)
	app.Close()
	if err != nil {
		log.Fatalf("%v", err)
	}
}
