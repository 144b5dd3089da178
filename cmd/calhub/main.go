package main

import "calhub/cmd/calhub/cmd"

func main() {
	cmd.Execute()
}
