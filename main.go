package main

import (
	"fmt"

	"github.com/takrelay/aggregator/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
