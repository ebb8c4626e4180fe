package kalloc

import (
	"fmt"

	"github.com/joshuapare/kpool/pkg/types"
)

func (a *Allocator) fatal(op string, err error) {
	a.log.Error("kalloc: fatal", "op", op, "err", err)
	a.abort(types.Fatal(op, err))
}

func badAddr(pa PA, why string) error {
	return fmt.Errorf("%w: %#x %s", types.ErrBadFree, uint64(pa), why)
}
