package main

import "rampq/cmd"

func main() {
	cmd.Execute()
}
