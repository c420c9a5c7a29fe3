package main

import "github.com/trobanga/pacsbatch/cmd"

func main() {
	cmd.Execute()
}
