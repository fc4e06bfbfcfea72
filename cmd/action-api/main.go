package main

import "github.com/rhoffman0214/BobsComponents/services/action-api/cli"

func main() {
	cli.Execute()
}
