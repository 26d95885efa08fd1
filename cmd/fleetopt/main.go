package main

import "github.com/truckwise/fleetopt/cmd/fleetopt/commands"

func main() {
	commands.Execute()
}
