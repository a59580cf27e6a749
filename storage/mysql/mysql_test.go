package mysql

import (
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/replyq/replyq/storage"
	"github.com/replyq/replyq/storage/test"
)

func TestMySQLStorage(t *testing.T) {
	testDSN := os.Getenv("REPLYQ_MYSQL_STORAGE_TEST_DSN")
	if testDSN == "" {
		t.Skip("REPLYQ_MYSQL_STORAGE_TEST_DSN not set")
	}

	test.TestStore(t, func() storage.Store {
		s, err := New(WithDSN(testDSN), WithRefSecret([]byte("test-secret")))
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}
