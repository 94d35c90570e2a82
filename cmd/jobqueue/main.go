// Command jobqueue submits, inspects and processes jobs of a shared job
// store from the command line.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("jobqueue failed")
		os.Exit(1)
	}
}
