package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"signalexecutor/cmd/orchestrator"
	"signalexecutor/src/security"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "signalexecutor CMD"
	app.Usage = "The signal executor command line interface"

	app.Commands = []cli.Command{
		orchestratorCMD,
		encryptCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	orchestratorCMD = cli.Command{
		Name:        "orchestrator",
		Usage:       "run Orchestrator",
		Action:      orchestratorAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the signal-to-trade orchestration engine`,
	}
	encryptCMD = cli.Command{
		Name:      "encrypt",
		Usage:     "encrypt an exchange credential for storage",
		Action:    encryptAction,
		ArgsUsage: "<plaintext>",
		Flags:     []cli.Flag{},
		Description: `Encrypt a credential with the shared credentials key so it can be
stored on an account config`,
	}
)

func orchestratorAction(_ *cli.Context) error {
	logrus.Info("Starting orchestrator CMD")

	o := &orchestrator.Orchestrator{}
	err := o.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func encryptAction(c *cli.Context) error {
	plaintext := c.Args().First()
	if plaintext == "" {
		return fmt.Errorf("usage: encrypt <plaintext>")
	}

	ciphertext, err := security.EncryptString(plaintext)
	if err != nil {
		logrus.WithError(err).Error("Failed to encrypt credential")
		return err
	}

	fmt.Println(ciphertext)
	return nil
}
