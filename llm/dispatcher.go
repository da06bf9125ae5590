package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Ordering decides which completion results reach the display.
type Ordering string

const (
	// Arrival applies every result as it arrives, so an answer to an older
	// utterance may replace a newer one.
	Arrival Ordering = "arrival"
	// Latest applies a result only if no later utterance has been applied.
	Latest Ordering = "latest"
)

func ParseOrdering(s string) (Ordering, error) {
	switch Ordering(s) {
	case "", Arrival:
		return Arrival, nil
	case Latest:
		return Latest, nil
	}
	return "", fmt.Errorf("unknown completion ordering %q", s)
}

type AnswerSink interface {
	SetAnswer(text string)
	ReportError(err error)
}

type DispatcherConfig struct {
	SystemPrompt string
	Ordering     Ordering
	Timeout      time.Duration
}

// Dispatcher issues one completion per utterance. Requests are never
// canceled by newer utterances; Close cancels all of them.
type Dispatcher struct {
	creds  CredentialSource
	model  LanguageModel
	sink   AnswerSink
	cfg    DispatcherConfig
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	seq    atomic.Uint64

	mu      sync.Mutex
	applied uint64
}

func NewDispatcher(
	creds CredentialSource,
	model LanguageModel,
	sink AnswerSink,
	cfg DispatcherConfig,
	logger *log.Logger,
) *Dispatcher {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Ordering == "" {
		cfg.Ordering = Arrival
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		creds:  creds,
		model:  model,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (d *Dispatcher) Dispatch(text string) {
	seq := d.seq.Add(1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(seq, text)
	}()
}

// Wait blocks until every dispatched request has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) run(seq uint64, text string) {
	ctx := d.ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	d.logger.Debug("ask", "seq", seq, "txt", text)
	start := time.Now()
	answer, err := d.complete(ctx, text)
	if err != nil {
		if errors.Is(d.ctx.Err(), context.Canceled) {
			d.logger.Debug("abandoned", "seq", seq)
			return
		}
		d.logger.Error("completion failed", "seq", seq, "error", err)
		d.sink.ReportError(err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.Ordering == Latest && seq < d.applied {
		d.logger.Debug("stale answer", "seq", seq, "applied", d.applied)
		return
	}
	if seq > d.applied {
		d.applied = seq
	}
	d.logger.Info("answer", "seq", seq, "took", time.Since(start).Round(time.Millisecond))
	d.sink.SetAnswer(answer)
}

func (d *Dispatcher) complete(ctx context.Context, text string) (string, error) {
	key, err := d.creds.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialFetch, err)
	}
	answer, err := d.model.Complete(ctx, key, Prompt{
		System: d.cfg.SystemPrompt,
		User:   text,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompletionRequest, err)
	}
	return answer, nil
}
