//go:build integration

package mysql_test

import (
	"os"
	"testing"

	"github.com/orlandos-nl/cyphertextkit/storage"
	"github.com/orlandos-nl/cyphertextkit/storage/mysql"
	"github.com/orlandos-nl/cyphertextkit/storage/storagetest"
)

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set; skipping integration test")
	}

	storagetest.TestStore(t, func() storage.Store {
		s, err := mysql.New(dsn)
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}
