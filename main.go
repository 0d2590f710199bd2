package main

import "github.com/tanq16/hoard/cmd"

func main() {
	cmd.Execute()
}
