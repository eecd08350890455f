package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brunobiangulo/docmark/storage"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the SQLite blob store used with --storage-db",
	Long: `store adds, lists and removes documents in the SQLite blob store named by
--storage-db (or storage_db in the config file). Once stored, a document is
converted with 'docmark --storage-db <db> convert <key>'.`,
}

var storePutCmd = &cobra.Command{
	Use:   "put <file> [key]",
	Short: "Copy a local file into the store",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		key := filepath.Base(args[0])
		if len(args) == 2 {
			key = args[1]
		}
		if err := db.Put(cmd.Context(), key, data); err != nil {
			return fmt.Errorf("storing %s: %w", key, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var storeListCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List keys under a prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		keys, err := db.List(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

var storeRemoveCmd = &cobra.Command{
	Use:   "rm <key>...",
	Short: "Remove keys from the store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		for _, k := range args {
			if err := db.Delete(cmd.Context(), k); err != nil {
				return fmt.Errorf("removing %s: %w", k, err)
			}
		}
		return nil
	},
}

func openStore() (*storage.SQLite, error) {
	path := viper.GetString("storage_db")
	if path == "" {
		return nil, errors.New("no store configured: pass --storage-db or set DOCMARK_STORAGE_DB")
	}
	return storage.OpenSQLite(path)
}

func init() {
	storeCmd.AddCommand(storePutCmd, storeListCmd, storeRemoveCmd)
	rootCmd.AddCommand(storeCmd)
}
