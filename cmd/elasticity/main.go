package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	err := Main(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func Main(args []string) error {
	app := &cli.App{
		Name:                 "elasticity",
		Usage:                "Run and watch Elastic MapReduce job flows.",
		HideHelpCommand:      true,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file (default: elasticity.yaml in ./config or .)",
			},
			&cli.StringFlag{
				Name:    "access-key",
				Usage:   "access key ID",
				EnvVars: []string{"AWS_ACCESS_KEY_ID"},
			},
			&cli.StringFlag{
				Name:    "secret-key",
				Usage:   "secret access key",
				EnvVars: []string{"AWS_SECRET_ACCESS_KEY"},
			},
			&cli.StringFlag{
				Name:  "region",
				Usage: "region of the control plane, overrides the config file",
			},
		},
		Commands: []*cli.Command{
			CmdRun(),
			CmdStatus(),
			CmdSteps(),
			CmdAddStep(),
			CmdWait(),
			CmdTerminate(),
			CmdList(),
			CmdHistory(),
			CmdSync(),
		},
	}
	return app.Run(args)
}
