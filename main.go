package main

import "github.com/kozaktomas/gate-attendance/cmd"

func main() {
	cmd.Execute()
}
