package main

import (
	"context"
	"fmt"

	"github.com/replyq/replyq/storage"
	storagediskv "github.com/replyq/replyq/storage/diskv"
	storagedynamo "github.com/replyq/replyq/storage/dynamodb"
	storageinmem "github.com/replyq/replyq/storage/inmem"
	storagemysql "github.com/replyq/replyq/storage/mysql"

	_ "github.com/go-sql-driver/mysql"
)

func parseStorage(name, dsn string, secret []byte) (storage.Store, error) {
	switch name {
	case "inmem":
		return storageinmem.New(secret), nil
	case "file", "diskv":
		if dsn == "" {
			dsn = "db"
		}
		return storagediskv.New(dsn, secret), nil
	case "mysql":
		return storagemysql.New(
			storagemysql.WithDSN(dsn),
			storagemysql.WithRefSecret(secret),
		)
	case "dynamodb":
		// the DSN is the table name.
		return storagedynamo.New(
			context.Background(),
			dsn,
			storagedynamo.WithRefSecret(secret),
		)
	}
	return nil, fmt.Errorf("unknown storage: %s", name)
}
