package main

import (
	"fmt"
	"os"
	"strconv"
)

func exitIfSet(errs ...error) {
	for _, err := range errs {
		if err != nil {
			exitWithError(err.Error())
		}
	}
}

func exitWithError(str string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", str)
	os.Exit(1)
}

// exitTransport reports a transport open failure with its own exit code so
// scripts can tell it apart from a failed load.
func exitTransport(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	os.Exit(-1)
}

func getBool(field interface{}) bool {
	val, _ := field.(bool)
	return val
}

func getString(field interface{}) string {
	str, _ := field.(string)
	return str
}

func getInt(field interface{}) int {
	val, _ := strconv.Atoi(getString(field))
	return val
}
