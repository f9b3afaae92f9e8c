package main

import "allinone/cmd"

func main() {
	cmd.Execute()
}
