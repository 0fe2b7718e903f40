package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jask/focusguard/internal/policy"
	"github.com/jask/focusguard/internal/service"
	"github.com/jask/focusguard/internal/session"
)

func newLockCmd(opts *rootOptions) *cobra.Command {
	var minutes int
	var tick time.Duration
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Run a focus session without the TUI; queries are read from stdin",
		Long: `Starts a locked session and reads one line at a time from stdin.
A plain line is searched. Commands:
  :pause SECRET   pause the countdown
  :resume         resume after a pause
  :status         print the remaining time
  :reload         pick up a new API key or oracle.model
  :end            end the session early

The remaining time is also printed at every full minute.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts.identity)
			if err != nil {
				return err
			}
			defer e.Close()

			if !e.identity.Role.Valid() {
				return errors.Wrap(service.ErrInvalidInput, "set a role first with `focusguard profile set --role`")
			}
			if minutes <= 0 {
				minutes = e.cfg.Session.DefaultMinutes
			}
			m := e.machine()
			search, err := e.searchService(ctx, m)
			if err != nil {
				return err
			}
			r := &lockRunner{
				machine: m,
				search:  search,
				clock:   session.NewClock(m, tick),
				out:     cmd.OutOrStdout(),
				role:    e.identity.Role,
				reload:  e.reloadOracle,
				log:     e.log.Named("lock"),
			}
			return r.run(ctx, minutes*60, cmd.InOrStdin())
		},
	}
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 0, "session length (defaults to session.default_minutes)")
	cmd.Flags().DurationVar(&tick, "tick", time.Second, "countdown step")
	_ = cmd.Flags().MarkHidden("tick")
	return cmd
}

// lockRunner drives one headless session: the clock ticks in the
// background while stdin lines are handled in order.
type lockRunner struct {
	machine *session.Machine
	search  *service.SearchService
	clock   *session.Clock
	out     io.Writer
	role    policy.Role
	reload  func() (string, error)
	log     *zap.Logger

	mu sync.Mutex // guards out
}

func (r *lockRunner) printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *lockRunner) run(ctx context.Context, seconds int, in io.Reader) error {
	done := make(chan struct{})
	var once sync.Once
	r.machine.OnEnd(func(s session.Snapshot) {
		r.printf("session %s after %s\n", s.EndReason, time.Duration(s.Elapsed())*time.Second)
		once.Do(func() { close(done) })
	})

	r.clock.OnTick = func(s session.Snapshot) {
		if s.State == session.StateLocked && s.Remaining > 0 && s.Remaining%60 == 0 {
			r.printf("%s left\n", time.Duration(s.Remaining)*time.Second)
		}
	}

	snap, err := r.machine.Start(seconds)
	if err != nil {
		return err
	}
	r.clock.Start()
	defer r.clock.Stop()
	r.printf("locked for %s\n", time.Duration(snap.Total)*time.Second)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			r.end()
			return nil
		case line, ok := <-lines:
			if !ok {
				r.end()
				return nil
			}
			r.handle(ctx, strings.TrimSpace(line))
		}
	}
}

func (r *lockRunner) end() {
	if st := r.machine.Snapshot().State; st == session.StateLocked || st == session.StatePaused {
		_, _ = r.machine.End()
	}
}

func (r *lockRunner) handle(ctx context.Context, line string) {
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, ":") {
		r.query(ctx, line)
		return
	}

	verb, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	switch verb {
	case "pause":
		_, err := r.machine.RequestPause(ctx, strings.TrimSpace(arg))
		switch {
		case err == nil:
			r.clock.Stop()
			r.printf("paused\n")
		case errors.Is(err, session.ErrCredentialRejected):
			r.printf("incorrect secret; still locked\n")
		default:
			r.printf("cannot pause: %v\n", err)
		}
	case "resume":
		if _, err := r.machine.Resume(); err != nil {
			r.printf("cannot resume: %v\n", err)
			return
		}
		r.clock.Start()
		r.printf("resumed\n")
	case "status":
		s := r.machine.Snapshot()
		r.printf("%s, %s left\n", s.State, time.Duration(s.Remaining)*time.Second)
	case "reload":
		if r.reload == nil {
			r.printf("cannot reload: nothing to reload\n")
			return
		}
		model, err := r.reload()
		if err != nil {
			r.printf("cannot reload: %v\n", err)
			return
		}
		r.printf("oracle reloaded (model %s)\n", model)
	case "end":
		r.end()
	default:
		r.printf("unknown command %q\n", verb)
	}
}

func (r *lockRunner) query(ctx context.Context, q string) {
	out, err := r.search.Search(ctx, q, r.role)
	var rej *service.RejectionError
	switch {
	case err == nil:
		r.mu.Lock()
		printOutcome(r.out, out)
		r.mu.Unlock()
	case errors.As(err, &rej):
		r.printf("rejected: %s\n", rej.Reason)
	case errors.Is(err, service.ErrNotLocked):
		r.printf("searching is paused with the session\n")
	default:
		r.log.Warn("search failed", zap.String("query", q), zap.Error(err))
		r.printf("search failed: %v\n", err)
	}
}
