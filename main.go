package main

import "github.com/ValentinKolb/dSnap/cmd"

func main() {
	cmd.Execute()
}
