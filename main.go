package main

import "github.com/monika-after-story/installer/cmd/installer"

func main() {
	installer.Execute()
}
