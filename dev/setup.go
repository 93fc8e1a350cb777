package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	devenv "operlog-client/dev/env"
	"operlog-client/lib/historystore"
)

func createHistoryDb(ctx context.Context, filename string) error {
	path, err := devenv.ResolvePath(filepath.Join("<dev_state>", filename))
	if err != nil {
		return err
	}

	_, err = os.Stat(path)
	if err == nil {
		fmt.Println("database already created at", path)
		return nil
	}

	fmt.Println("creating database at", path)
	db, err := historystore.OpenDB(path)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = historystore.NewStore(ctx, db)
	return err
}

const liveConfigTemplate = `{
  // the operlog deployment the live tests run against
  base_url: "",
  username: "",
  password: "",
  history_days: 1,
}
`

func createLiveConfig(filename string) error {
	path, err := devenv.ResolvePath(filepath.Join("<dev_state>", filename))
	if err != nil {
		return err
	}

	_, err = os.Stat(path)
	if err == nil {
		fmt.Println("live test config already exists at", path)
		return nil
	}

	fmt.Println("writing live test config template to", path)
	return os.WriteFile(path, []byte(liveConfigTemplate), 0600)
}

func PrintConfigLocations() {
	slog.Info("live tests are skipped until dev/.state/operlog_config.json5 is filled in, run `go test -v ./lib/platforms/operlog/api -run TestLive` to check.")
}
