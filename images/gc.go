package images

import (
	"context"
	"os"
	"time"

	"github.com/projecteru2/pupa/utils"
)

// GCStaleTemp removes abandoned pull work directories older than
// utils.StaleTempAge. Fresh entries are left alone since a pull may still be
// running in another process.
func GCStaleTemp(ctx context.Context, tempDir string) []error {
	cutoff := time.Now().Add(-utils.StaleTempAge)
	return utils.RemoveMatching(ctx, tempDir, func(e os.DirEntry) bool {
		info, err := e.Info()
		return err == nil && info.ModTime().Before(cutoff)
	})
}
