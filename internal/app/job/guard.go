package job

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrRunInProgress は別の実行が終わっていないことを表します。
var ErrRunInProgress = errors.New("a run is already in progress")

type Executor interface {
	Run(ctx context.Context, opts Options) RunResult
}

// Guard は定期実行と API からの実行が重ならないようにし、最後の結果を保持します。
type Guard struct {
	exec Executor

	mu      sync.Mutex
	running *Options
	last    *RunResult
	done    chan struct{}
}

func NewGuard(exec Executor) *Guard {
	return &Guard{exec: exec}
}

// Run は同期的に実行します。実行中なら ErrRunInProgress を返します。
func (g *Guard) Run(ctx context.Context, opts Options) (RunResult, error) {
	opts, err := g.acquire(opts)
	if err != nil {
		return RunResult{}, err
	}
	return g.run(ctx, opts), nil
}

// Start は非同期に実行を開始し、その ID を返します。ctx は実行全体の親になります。
func (g *Guard) Start(ctx context.Context, opts Options) (uuid.UUID, error) {
	opts, err := g.acquire(opts)
	if err != nil {
		return uuid.Nil, err
	}
	go g.run(ctx, opts)
	return opts.ID, nil
}

func (g *Guard) acquire(opts Options) (Options, error) {
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running != nil {
		return opts, ErrRunInProgress
	}
	if opts.ID == uuid.Nil {
		opts.ID = uuid.New()
	}
	g.running = &opts
	g.done = make(chan struct{})
	return opts, nil
}

func (g *Guard) run(ctx context.Context, opts Options) RunResult {
	res := g.exec.Run(ctx, opts)
	g.mu.Lock()
	g.last = &res
	g.running = nil
	close(g.done)
	g.mu.Unlock()
	return res
}

// Running は実行中の指定を返します。
func (g *Guard) Running() (Options, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		return Options{}, false
	}
	return *g.running, true
}

// Last は最後に終了した実行の結果です。
func (g *Guard) Last() (RunResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return RunResult{}, false
	}
	return *g.last, true
}

// Wait は実行中のものがあれば終了を待ちます。
func (g *Guard) Wait(ctx context.Context) error {
	g.mu.Lock()
	done := g.done
	running := g.running != nil
	g.mu.Unlock()
	if !running {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
