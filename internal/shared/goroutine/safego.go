// Package goroutine provides panic-safe goroutine launching.
package goroutine

import (
	"fmt"
	"runtime/debug"

	"usdtgate/internal/shared/logger"
)

// SafeGo launches fn in a goroutine and converts panics into error logs so a
// single bad block parse or callback cannot take the process down.
func SafeGo(log logger.Interface, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("goroutine panicked",
					"goroutine", name,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
