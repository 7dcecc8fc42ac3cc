package main

import "github.com/Norgate-AV/f2mod/cmd"

func main() {
	cmd.Execute()
}
