package main

import "github.com/cmstate/cmstate/cmd"

func main() {
	cmd.Execute()
}
