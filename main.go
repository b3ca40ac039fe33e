package main

import "github.com/mstefan21/qrelay/cmd"

func main() {
	cmd.Execute()
}
