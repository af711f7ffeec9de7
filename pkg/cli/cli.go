package cli

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/amirimatin/coremember/pkg/bootstrap"
	"github.com/amirimatin/coremember/pkg/codec"
	"github.com/amirimatin/coremember/pkg/internal/logutil"
	"github.com/amirimatin/coremember/pkg/observability/metrics"
	"github.com/amirimatin/coremember/pkg/observability/tracing"
	"github.com/amirimatin/coremember/pkg/transport"
	mgmtgrpc "github.com/amirimatin/coremember/pkg/transport/grpc"
)

// AddAll attaches run/join/leave/members/encode/decode to root.
func AddAll(root *cobra.Command) {
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewJoinCmd())
	root.AddCommand(NewLeaveCmd())
	root.AddCommand(NewMembersCmd())
	root.AddCommand(NewEncodeCmd())
	root.AddCommand(NewDecodeCmd())
}

// NewRunCmd returns the "run" command used to start a node.
func NewRunCmd() *cobra.Command {
	var (
		cfg                   bootstrap.Config
		metricsAddr           string
		traceEnable, jsonLogs bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a cluster node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.NodeID == "" {
				return fmt.Errorf("missing --id")
			}
			if jsonLogs {
				logutil.SetJSON(true)
			}
			ctx, cancel := signalContext()
			defer cancel()

			if traceEnable {
				shutdown, err := tracing.Setup(true)
				if err != nil {
					log.Printf("tracing setup error: %v", err)
				} else {
					defer func() { _ = shutdown(context.Background()) }()
				}
			}
			if metricsAddr != "" {
				metrics.Register()
				if err := metrics.Serve(ctx, metricsAddr); err != nil {
					return fmt.Errorf("metrics listener: %w", err)
				}
			}

			cfg.Logger = log.Default()
			cl, err := bootstrap.Run(ctx, cfg)
			if err != nil {
				return err
			}
			defer cl.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "node %s running as %s. Press Ctrl+C to exit.\n", cfg.NodeID, cl.Record())
			<-ctx.Done()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.NodeID, "id", "", "node id (required)")
	f.StringVar(&cfg.CoreAddr, "core-addr", "127.0.0.1:7687", "core (gRPC) bind addr")
	f.StringVar(&cfg.CoreAdvertise, "core-adv", "", "core advertise addr (optional)")
	f.StringVar(&cfg.RaftAddr, "raft-addr", "127.0.0.1:7688", "raft bind addr (tcp)")
	f.StringVar(&cfg.MemBind, "mem-bind", "127.0.0.1:7946", "membership bind addr (host:port)")
	f.StringVar(&cfg.MemAdv, "mem-adv", "", "membership advertise addr (host:port, optional)")
	f.StringVar(&cfg.SeedsCSV, "seeds", "", "comma-separated gossip seeds (host:port)")
	f.StringVar(&cfg.JoinAddr, "join", "", "core address of an existing node to join through")
	f.StringVar(&cfg.DataDir, "data", "", "raft data dir (empty keeps state in memory)")
	f.BoolVar(&cfg.Bootstrap, "bootstrap", false, "bootstrap single-node raft")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this addr")
	f.BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
	f.BoolVar(&jsonLogs, "log-json", false, "emit JSON log lines")
	return cmd
}

// NewJoinCmd returns the "join" command: ask a node to record a member.
func NewJoinCmd() *cobra.Command {
	var (
		id, core, raft, addr string
		timeout              time.Duration
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Request to record a member in the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("missing required flag: --id")
			}
			m, err := codec.NewMember(core, raft)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			resp, err := mgmtgrpc.NewClient(timeout).Join(ctx, addr, transport.JoinRequest{ID: id, Member: m})
			if err != nil {
				return fmt.Errorf("join error: %w", err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "node id to add (required)")
	cmd.Flags().StringVar(&core, "core", "", "member core address (host:port)")
	cmd.Flags().StringVar(&raft, "raft", "", "member raft address (host:port)")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7687", "core address of a node (host:port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}

// NewLeaveCmd returns the "leave" command.
func NewLeaveCmd() *cobra.Command {
	var (
		id, addr string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Request to remove a member from the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("missing required flag: --id")
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			resp, err := mgmtgrpc.NewClient(timeout).Leave(ctx, addr, transport.LeaveRequest{ID: id})
			if err != nil {
				return fmt.Errorf("leave error: %w", err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "node id to remove (required)")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7687", "core address of a node (host:port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}

// NewMembersCmd returns the "members" command.
func NewMembersCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "members",
		Short: "List the replicated member records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			resp, err := mgmtgrpc.NewClient(timeout).Members(ctx, addr)
			if err != nil {
				return fmt.Errorf("members error: %w", err)
			}
			return writeMembers(cmd.OutOrStdout(), resp, asJSON)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7687", "core address of a node (host:port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

type memberView struct {
	ID   string `json:"id,omitempty"`
	Core string `json:"core"`
	Raft string `json:"raft"`
}

func view(id string, m codec.Member) memberView {
	return memberView{ID: id, Core: m.CoreAddress.String(), Raft: m.RaftAddress.String()}
}

func writeMembers(w io.Writer, resp transport.MembersResponse, asJSON bool) error {
	if asJSON {
		out := struct {
			Leader  string       `json:"leader"`
			Members []memberView `json:"members"`
		}{Leader: resp.Leader, Members: make([]memberView, 0, len(resp.Members))}
		for _, e := range resp.Members {
			out.Members = append(out.Members, view(e.ID, e.Member))
		}
		return json.NewEncoder(w).Encode(out)
	}
	fmt.Fprintf(w, "leader: %s\n", resp.Leader)
	for _, e := range resp.Members {
		fmt.Fprintf(w, "%s\tcore=%s\traft=%s\n", e.ID, e.Member.CoreAddress, e.Member.RaftAddress)
	}
	return nil
}

// NewEncodeCmd returns the "encode" command: member record to hex.
func NewEncodeCmd() *cobra.Command {
	var core, raft string
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a member record to hex",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := codec.NewMember(core, raft)
			if err != nil {
				return err
			}
			p, err := m.MarshalBinary()
			if err != nil {
				return err
			}
			metrics.ObserveEncode("cli", len(p), nil)
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(p))
			return nil
		},
	}
	cmd.Flags().StringVar(&core, "core", "", "core address (host:port)")
	cmd.Flags().StringVar(&raft, "raft", "", "raft address (host:port)")
	return cmd
}

// NewDecodeCmd returns the "decode" command: hex to member record.
func NewDecodeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "decode HEX",
		Short: "Decode a hex member record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := hex.DecodeString(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid hex: %w", err)
			}
			var m codec.Member
			err = m.UnmarshalBinary(p)
			metrics.ObserveDecode("cli", len(p), err)
			if err != nil {
				return fmt.Errorf("decode (%s): %w", codec.Kind(err), err)
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(view("", m))
			}
			fmt.Fprintln(cmd.OutOrStdout(), m)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
