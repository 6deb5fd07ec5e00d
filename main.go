package main

import "github.com/nextlevelbuilder/taskloom/cmd"

func main() {
	cmd.Execute()
}
