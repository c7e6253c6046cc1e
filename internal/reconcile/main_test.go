package reconcile

import (
	"os"
	"testing"

	"github.com/emrgen/catalog/internal/tester"
)

func TestMain(m *testing.M) {
	tester.Setup()
	code := m.Run()
	tester.RemoveDBFile()

	os.Exit(code)
}
