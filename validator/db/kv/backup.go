package kv

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const backupsDirectoryName = "backups"

// Backup the database to the datadir backup directory, or to outputDir
// when provided. Buckets are copied record by record inside a single
// read transaction so the copy is a consistent snapshot.
func (s *Store) Backup(ctx context.Context, outputDir string, permissionOverride bool) error {
	var backupsDir string
	if outputDir != "" {
		backupsDir = filepath.Join(outputDir, backupsDirectoryName)
	} else {
		backupsDir = filepath.Join(s.databasePath, backupsDirectoryName)
	}
	dirMode := os.FileMode(0700)
	if permissionOverride {
		dirMode = 0777
	}
	if err := os.MkdirAll(backupsDir, dirMode); err != nil {
		return err
	}
	backupPath := filepath.Join(backupsDir, "tournament.backup_"+time.Now().Format("2006-01-02_15-04-05"))
	log.WithField("backup", backupPath).Info("Writing backup database")

	copyDB, err := bolt.Open(backupPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return err
	}
	defer func() {
		if err := copyDB.Close(); err != nil {
			log.WithError(err).Error("Could not close backup database")
		}
	}()

	return s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithField("bucket", string(name)).Debug("Copying bucket")
			return copyDB.Update(func(tx2 *bolt.Tx) error {
				b2, err := tx2.CreateBucketIfNotExists(name)
				if err != nil {
					return errors.Wrapf(err, "could not create bucket %s", name)
				}
				return b.ForEach(b2.Put)
			})
		})
	})
}
