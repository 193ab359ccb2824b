package main

import "github.com/ValentinKolb/infinity/cmd"

func main() {
	cmd.Execute()
}
