package metrics

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amirimatin/coremember/pkg/codec"
)

var (
	once sync.Once

	ClusterMembers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coremember",
		Name:      "members_total",
		Help:      "Current number of member records in the replicated state",
	})

	IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coremember",
		Name:      "is_leader",
		Help:      "1 if this node is the leader, else 0",
	})

	LeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coremember",
		Name:      "leader_changes_total",
		Help:      "Total number of observed leader change events",
	})

	JoinRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coremember",
		Name:      "join_requests_total",
		Help:      "Total join requests handled by this node",
	}, []string{"result"})

	LeaveRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coremember",
		Name:      "leave_requests_total",
		Help:      "Total leave requests handled by this node",
	}, []string{"result"})

	AppliedCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coremember",
		Subsystem: "raft",
		Name:      "applied_total",
		Help:      "Total raft log entries applied to the membership FSM",
	}, []string{"op", "result"})

	// Codec metrics, labelled by where the bytes came from or went to
	// (raft, snapshot, grpc, gossip).
	CodecBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coremember",
		Subsystem: "codec",
		Name:      "bytes_total",
		Help:      "Total bytes encoded or decoded",
	}, []string{"path", "direction"})
	CodecErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coremember",
		Subsystem: "codec",
		Name:      "errors_total",
		Help:      "Total encode/decode failures by kind",
	}, []string{"path", "kind"})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(ClusterMembers)
		prometheus.MustRegister(IsLeader)
		prometheus.MustRegister(LeaderChanges)
		prometheus.MustRegister(JoinRequests)
		prometheus.MustRegister(LeaveRequests)
		prometheus.MustRegister(AppliedCommands)
		prometheus.MustRegister(CodecBytes)
		prometheus.MustRegister(CodecErrors)
	})
}

// ObserveEncode records n encoded bytes or an encode failure on path.
func ObserveEncode(path string, n int, err error) {
	observe(path, "encode", n, err)
}

// ObserveDecode records n decoded bytes or a decode failure on path.
func ObserveDecode(path string, n int, err error) {
	observe(path, "decode", n, err)
}

func observe(path, direction string, n int, err error) {
	if err != nil {
		CodecErrors.WithLabelValues(path, codec.Kind(err)).Inc()
		return
	}
	CodecBytes.WithLabelValues(path, direction).Add(float64(n))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() { _ = srv.Serve(lis) }()
	return nil
}
