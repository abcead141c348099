package main

import "ffbuild/internal/ffbuild"

func main() {
	ffbuild.Main()
}
