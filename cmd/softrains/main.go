package main

import "github.com/bigjimnolan/softrains/controller"

func main() {
	controller.StartHere()
}
