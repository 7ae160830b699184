package main

import "melodify/cmd"

func main() {
	cmd.Execute()
}
