package bcache

import (
	"fmt"

	"github.com/joshuapare/kpool/pkg/types"
)

// fatal logs and reports an invariant violation. Callers return right after;
// a custom Abort that returns leaves the operation without effect.
func (c *Cache) fatal(op string, err error) {
	fe := types.Fatal(op, err)
	c.log.Error("bcache: fatal", "op", op, "err", err)
	c.abort(fe)
}

func ioError(dev, blockno uint32, err error) error {
	return fmt.Errorf("%w: block %d/%d: %w", types.ErrIO, dev, blockno, err)
}
