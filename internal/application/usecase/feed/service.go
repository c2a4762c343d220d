package feed

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"xstream/internal/application/port"
)

type ServiceDeps struct {
	Adapter  *Adapter
	Streams  Streams
	Recorder *Recorder
	// Accounts 可选：启动时拉取一次账户快照
	Accounts      port.AccountSnapshotter
	PrintEveryMin int
	Color         bool
	Sink          port.Sink
	Repo          port.Repository
}

type Service struct {
	deps ServiceDeps
	fmt  *Formatter
}

func NewService(deps ServiceDeps) *Service {
	if deps.PrintEveryMin <= 0 {
		deps.PrintEveryMin = 5
	}
	return &Service{
		deps: deps,
		fmt:  NewFormatter(deps.Color),
	}
}

// Run starts the streams and renders until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Adapter == nil || s.deps.Streams == nil {
		return errors.New("feed: adapter and streams required")
	}

	// deferred in reverse: streams stop first, then the recorder drains
	defer s.startRecorder()()
	if s.deps.Accounts != nil {
		s.seedAccount(ctx)
	}

	if err := s.deps.Streams.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.deps.Streams.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("stop streams")
		}
	}()

	// snapshot ticker
	snapTicker := time.NewTicker(time.Duration(s.deps.PrintEveryMin) * time.Minute)
	defer snapTicker.Stop()

	st := s.deps.Adapter.State()
	_ = s.deps.Sink.WriteLive(s.fmt.Render(st, s.deps.Adapter.Metrics(), RenderLive))

	for {
		select {
		case <-ctx.Done():
			_ = s.deps.Sink.NewLine()
			return ctx.Err()

		case now := <-snapTicker.C:
			line := s.fmt.Render(st, s.deps.Adapter.Metrics(), RenderSnapshot)
			_ = s.deps.Sink.WriteSnapshot(now, line)
			if s.deps.Repo != nil {
				if err := s.deps.Repo.InsertSnapshot(ctx, now.UnixMilli(), line); err != nil {
					log.Warn().Err(err).Msg("persist snapshot failed")
				}
			}

		case <-s.deps.Adapter.Changes():
			_ = s.deps.Sink.WriteLive(s.fmt.Render(st, s.deps.Adapter.Metrics(), RenderLive))
		}
	}
}

// startRecorder runs the recorder on its own context; the returned func
// stops it and waits for the final flush.
func (s *Service) startRecorder() func() {
	if s.deps.Recorder == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.deps.Recorder.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Service) seedAccount(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, resyncTimeout)
	defer cancel()
	acct, err := s.deps.Accounts.AccountSnapshot(cctx)
	if err != nil {
		log.Warn().Err(err).Msg("account snapshot unavailable")
		return
	}
	s.deps.Adapter.SeedAccount(*acct)
	log.Info().Int("assets", len(acct.Balances)).Msg("✓ account snapshot loaded")
}
