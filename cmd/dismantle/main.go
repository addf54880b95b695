package main

import "github.com/GriffinCanCode/dismantle/internal/cli"

func main() {
	cli.Execute()
}
