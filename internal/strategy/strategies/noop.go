// Package strategies contains the built-in strategies a backtest can run by name.
package strategies

import "github.com/coachpo/meltica-replay/internal/strategy"

// NoOp is a strategy that does nothing. Useful to replay data through accounting alone.
type NoOp struct {
	strategy.Base
}
