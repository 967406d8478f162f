//go:build integration

package mongodb_test

import (
	"os"
	"testing"

	"github.com/orlandos-nl/cyphertextkit/storage"
	"github.com/orlandos-nl/cyphertextkit/storage/mongodb"
	"github.com/orlandos-nl/cyphertextkit/storage/storagetest"
)

func TestMongoDBStore(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	db := os.Getenv("MONGO_DB")
	if uri == "" || db == "" {
		t.Skip("MONGO_URI or MONGO_DB not set; skipping integration test")
	}

	storagetest.TestStore(t, func() storage.Store {
		s, err := mongodb.New(uri, db)
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}
