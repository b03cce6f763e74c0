package retrieval

import (
	"os"
	"testing"

	"checkdoc-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("info", "json", "")
	os.Exit(m.Run())
}
