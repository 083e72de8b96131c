package main

import (
	"os"

	"github.com/malbeclabs/sqlassist/internal/admin"
)

func main() {
	os.Exit(int(admin.Run()))
}
