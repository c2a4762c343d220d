package port

import "time"

// Sink 终端输出：一条可覆盖的实时状态行 + 周期快照行
type Sink interface {
	// WriteLive redraws the status line in place; the line carries its own "\r".
	WriteLive(line string) error
	// WriteSnapshot prints a timestamped line and leaves a blank line for the next live redraw.
	WriteSnapshot(ts time.Time, line string) error
	NewLine() error
}
