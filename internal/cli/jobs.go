package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/replydraft/internal/jobmanager"
	"github.com/ChuLiYu/replydraft/internal/poller"
	"github.com/ChuLiYu/replydraft/internal/server"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

const requestTimeout = 10 * time.Second

// jobClient is the part of server.Client the commands use.
type jobClient interface {
	poller.Source
	Submit(ctx context.Context, kind types.JobKind, payload any) (types.JobID, error)
	Cancel(ctx context.Context, id types.JobID) (types.Job, error)
	List(ctx context.Context, filter jobmanager.Filter) ([]types.Job, error)
}

// dialClient is replaced in tests.
var dialClient = func(addr string) (jobClient, func() error, error) {
	c, err := server.Dial(addr)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

func withClient(fn func(jobClient) error) error {
	client, closeFn, err := dialClient(serverAddr)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(client)
}

func buildSubmitCommand() *cobra.Command {
	var (
		kind string
		file string
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job from a JSON payload file",
		Long:  "Submit a job. --file - reads the payload from stdin. With --wait the command polls until the job is terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := types.ParseJobKind(kind)
			if err != nil {
				return err
			}
			payload, err := readPayload(k, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withClient(func(c jobClient) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				id, err := c.Submit(ctx, k, payload)
				if err != nil {
					return fmt.Errorf("failed to submit job: %w", err)
				}
				if !wait {
					return printJSON(cmd.OutOrStdout(), map[string]any{"job_id": id})
				}
				return watchJob(cmd, c, id)
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(types.KindGenerateResponse), "job kind: generate, vectorize, analyze, profile")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON payload file")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job finishes")
	cmd.MarkFlagRequired("file")
	return cmd
}

func readPayload(kind types.JobKind, path string, stdin io.Reader) (any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload file: %w", err)
	}
	payload, err := types.DecodePayload(kind, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payload file: %w", err)
	}
	return payload, nil
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c jobClient) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				job, err := c.Status(ctx, types.JobID(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}
}

func buildWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Poll a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c jobClient) error {
				return watchJob(cmd, c, types.JobID(args[0]))
			})
		},
	}
}

func watchJob(cmd *cobra.Command, c jobClient, id types.JobID) error {
	errOut := cmd.ErrOrStderr()
	w := poller.NewWatcher(c)
	job, err := w.Watch(cmd.Context(), id, func(j types.Job) {
		if j.State.IsTerminal() {
			return
		}
		if j.Progress != "" {
			fmt.Fprintf(errOut, "%s %s: %s\n", j.ID, j.State, j.Progress)
		} else {
			fmt.Fprintf(errOut, "%s %s\n", j.ID, j.State)
		}
	})
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), job); err != nil {
		return err
	}
	if job.State == types.StateFailed && job.Error != nil {
		return job.Error
	}
	return nil
}

func buildCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c jobClient) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				job, err := c.Cancel(ctx, types.JobID(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}
}

func buildListCommand() *cobra.Command {
	var user, state, kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := jobmanager.Filter{UserID: user}
			if state != "" {
				st, err := types.ParseJobState(state)
				if err != nil {
					return err
				}
				filter.State = st
			}
			if kind != "" {
				k, err := types.ParseJobKind(kind)
				if err != nil {
					return err
				}
				filter.Kind = k
			}
			return withClient(func(c jobClient) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				jobs, err := c.List(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), jobs)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only jobs of this user")
	cmd.Flags().StringVar(&state, "state", "", "only jobs in this state")
	cmd.Flags().StringVar(&kind, "kind", "", "only jobs of this kind")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
