package main

import (
	"autopress/cmd/handlers"
)

func main() {
	handlers.Execute()
}
