package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/checker-lobby/internal/config"
	"github.com/DoyleJ11/checker-lobby/internal/logging"
	"github.com/DoyleJ11/checker-lobby/pkg/client"
	"github.com/DoyleJ11/checker-lobby/pkg/reconciler"
	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

func (g *globals) setup(cmd *cobra.Command) (*client.Client, *zap.Logger, error) {
	if err := config.ApplyEnv(cmd.Flags()); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(g.logLevel, logging.FormatConsole)
	if err != nil {
		return nil, nil, err
	}
	return client.New(g.server), logger, nil
}

func newNewCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a session and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := g.setup(cmd)
			if err != nil {
				return err
			}
			id, err := c.CreateSession(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			fmt.Fprintf(cmd.ErrOrStderr(), "share: %s/games/%s (QR at %s/sessions/%s/qr)\n",
				strings.TrimRight(g.server, "/"), id, strings.TrimRight(g.server, "/"), id)
			return nil
		},
	}
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status SESSION",
		Short: "Print the slots of a session once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			c, _, err := g.setup(cmd)
			if err != nil {
				return err
			}
			v, err := c.GetSession(cmd.Context(), id)
			if err != nil {
				return err
			}
			printSlots(cmd.OutOrStdout(), time.Now(), v.Slots, -1)
			fmt.Fprintf(cmd.OutOrStdout(), "watchers: %d\n", v.Watchers)
			return nil
		},
	}
}

type joinOptions struct {
	slot         int
	name         string
	identityFile string
	leave        bool
	heartbeat    time.Duration
}

func newJoinCmd(g *globals) *cobra.Command {
	o := &joinOptions{}

	cmd := &cobra.Command{
		Use:   "join SESSION",
		Short: "Claim (or resume) a slot and stay present until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			c, logger, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return join(ctx, cmd.OutOrStdout(), c, logger, id, o)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&o.slot, "slot", 0, "slot to claim when no identity is stored (env: LOBBY_SLOT)")
	flags.StringVar(&o.name, "name", "", "player name, defaults to \"Player\" on the server (env: LOBBY_NAME)")
	flags.StringVar(&o.identityFile, "identity-file", defaultIdentityFile(), "where claimed slots are remembered (env: LOBBY_IDENTITY_FILE)")
	flags.BoolVar(&o.leave, "leave", false, "give the slot back on exit (env: LOBBY_LEAVE)")
	flags.DurationVar(&o.heartbeat, "heartbeat", client.DefaultHeartbeatInterval, "heartbeat interval (env: LOBBY_HEARTBEAT)")
	return cmd
}

func defaultIdentityFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "lobby-identities.json"
	}
	return filepath.Join(dir, "lobby", "identities.json")
}

func join(ctx context.Context, out io.Writer, c *client.Client, logger *zap.Logger, session uuid.UUID, o *joinOptions) error {
	r := reconciler.New(c, client.NewFileStore(o.identityFile), session, reconciler.WithLogger(logger))
	defer r.Close()

	resumed, err := r.Resume()
	if err != nil {
		return err
	}
	if !resumed {
		if err := r.Assign(o.slot, o.name); err != nil {
			return err
		}
	}

	ev, err := nextEvent(ctx, r)
	if err != nil {
		return err
	}
	if ev.Err != nil && resumed {
		fmt.Fprintf(out, "could not resume stored slot: %s\n", ev.Message)
		if err := r.Assign(o.slot, o.name); err != nil {
			return err
		}
		if ev, err = nextEvent(ctx, r); err != nil {
			return err
		}
	}
	if ev.Err != nil {
		return errors.New(ev.Message)
	}
	fmt.Fprintf(out, "holding slot %d\n", ev.Identity.SlotIndex)

	p := client.NewPresence(c.PresenceURL(), session,
		client.WithHeartbeatInterval(o.heartbeat),
		client.WithIdentitySource(r.Identity),
		client.WithPresenceLogger(logger),
	)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		if err := p.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		return watch(gctx, out, p, r)
	})
	if err := grp.Wait(); err != nil {
		return err
	}

	if !o.leave {
		return nil
	}
	if err := r.Unassign(); err != nil {
		return err
	}
	// The signal context is gone; give the release its own bound.
	leaveCtx, cancel := context.WithTimeout(context.Background(), reconciler.DefaultTimeout+time.Second)
	defer cancel()
	ev, err = nextEvent(leaveCtx, r)
	if err != nil {
		return err
	}
	if ev.Err != nil {
		return errors.New(ev.Message)
	}
	fmt.Fprintln(out, "left the session")
	return nil
}

func watch(ctx context.Context, out io.Writer, p *client.Presence, r *reconciler.Reconciler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-p.States():
			fmt.Fprintf(out, "[%s]\n", s)
		case snap := <-p.Snapshots():
			mine := -1
			if id, ok := r.Identity(); ok {
				mine = id.SlotIndex
			}
			printSlots(out, time.Now(), snap.Slots, mine)
		case ev := <-r.Events():
			if ev.Err != nil {
				fmt.Fprintf(out, "%s: %s\n", ev.Op, ev.Message)
			}
			if ev.Identity == nil {
				return errors.New("lost the slot")
			}
		}
	}
}

func nextEvent(ctx context.Context, r *reconciler.Reconciler) (reconciler.Event, error) {
	select {
	case ev := <-r.Events():
		return ev, nil
	case <-ctx.Done():
		return reconciler.Event{}, ctx.Err()
	}
}

func printSlots(out io.Writer, now time.Time, slots []types.SlotView, mine int) {
	for _, s := range slots {
		if !s.IsAssigned {
			fmt.Fprintf(out, "  slot %d: (open)\n", s.SlotIndex)
			continue
		}
		name := "?"
		if s.Name != nil {
			name = *s.Name
		}
		marker := ""
		if s.SlotIndex == mine {
			marker = " <- you"
		}
		fmt.Fprintf(out, "  slot %d: %s [%s]%s\n", s.SlotIndex, name, types.Classify(now, s), marker)
	}
}
