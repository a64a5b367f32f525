package library

import (
	"context"
	"os"
)

// StatProber checks file existence with a stat call. A stat error other
// than "not exist" is returned as-is; the verifier treats it as missing.
type StatProber struct{}

func (StatProber) Exists(ctx context.Context, locator string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(locator)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}
