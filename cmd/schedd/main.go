// Command schedd runs configured jobs on the pewsched scheduler.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
