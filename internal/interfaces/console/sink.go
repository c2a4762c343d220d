package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"xstream/internal/application/port"
)

const snapshotLayout = "2006-01-02 15:04:05"

type Sink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewSink() port.Sink { return NewWriterSink(os.Stdout) }

func NewWriterSink(w io.Writer) *Sink { return &Sink{out: w} }

func (s *Sink) WriteLive(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, line) // no newline
	return err
}

// 打印快照行后留一个空行占位；live 行等下一次变化再重画
func (s *Sink) WriteSnapshot(ts time.Time, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "\n%s %s\n\n", ts.Format(snapshotLayout), line)
	return err
}

func (s *Sink) NewLine() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, "\n")
	return err
}
