package utils

import (
	"context"
	"fmt"
	"time"
)

// WaitFor calls check every interval until it reports done, fails, or the
// timeout or ctx expires. The sleep between polls is cancellable.
func WaitFor(ctx context.Context, timeout, interval time.Duration, check func() (done bool, err error)) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := check()
		switch {
		case err != nil:
			return err
		case done:
			return nil
		case time.Now().Add(interval).After(deadline):
			return fmt.Errorf("timeout after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
