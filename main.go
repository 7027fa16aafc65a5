package main

import "github.com/dhcgn/mail-export/cmd"

func main() {
	cmd.Execute()
}
