package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
)

const serviceName = "renft"

func main() {
	app := &cli.App{
		Name:  serviceName,
		Usage: "NFT rental marketplace service",
		Description: fmt.Sprintf("%v ledger, escrow and keeper\nFor help on any individual command run <%v COMMAND -h>",
			serviceName, serviceName),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "dotenv file loaded before the environment is read",
				Value:   ".env",
				EnvVars: []string{"RENFT_ENV_FILE"},
			},
		},
		Commands: cli.Commands{
			serveCmd,
			migrateCmd,
			initCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatalf("fail to run %v: %v", serviceName, err)
	}
}
