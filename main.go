package main

import "repograph/cmd"

func main() {
	cmd.Execute()
}
