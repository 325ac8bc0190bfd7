// Package main is the autonsim command itself.
package main

import (
	"log"
	"os"

	"github.com/elliot2/motioncore/cli"
)

func main() {
	if err := cli.NewApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
