package commands

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/hermes/internal/logger"
	"github.com/marmos91/hermes/pkg/config"
	"github.com/marmos91/hermes/pkg/hg"
	"github.com/marmos91/hermes/pkg/metrics"
	"github.com/marmos91/hermes/pkg/na"
	"github.com/marmos91/hermes/pkg/na/loopback"
)

var (
	flagRequests    int
	flagPayloadSize int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the loopback round-trip benchmark",
	Long: `Run drives round trips through the engine over the in-process loopback
transport: a listening server endpoint registers an "echo" function, a
client endpoint forwards requests to it, and each completed callback is
timed. Results are printed as a latency table.`,
	RunE: runBench,
}

func init() {
	runCmd.Flags().IntVar(&flagRequests, "requests", 0, "number of round trips (overrides config)")
	runCmd.Flags().IntVar(&flagPayloadSize, "payload-size", -1, "request payload bytes (overrides config)")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if flagRequests > 0 {
		cfg.Bench.Requests = flagRequests
	}
	if flagPayloadSize >= 0 {
		cfg.Bench.PayloadSize = flagPayloadSize
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	var engineMetrics hg.Metrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		engineMetrics = metrics.NewEngineMetrics()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				logger.Error("Metrics server stopped", logger.KeyError, err)
			}
		}()
		logger.Info("Serving metrics", "listen", cfg.Metrics.Listen)
	}

	result, err := driveLoopback(cfg.Bench, engineMetrics)
	if err != nil {
		return err
	}

	printResult(cmd, cfg.Bench, result)
	return nil
}

// benchResult aggregates the measured round trips.
type benchResult struct {
	latencies []time.Duration
	elapsed   time.Duration
}

// driveLoopback runs cfg.Requests echo round trips between a client and
// a listening server endpoint on one loopback network.
func driveLoopback(cfg config.BenchConfig, engineMetrics hg.Metrics) (*benchResult, error) {
	network := loopback.NewNetwork()
	opts := &loopback.Options{MaxMsgSize: cfg.MaxMsgSize}

	serverNA, err := network.NewClass("server", true, opts)
	if err != nil {
		return nil, err
	}
	clientNA, err := network.NewClass("client", false, opts)
	if err != nil {
		return nil, err
	}

	serverNACtx, err := serverNA.NewContext()
	if err != nil {
		return nil, err
	}
	clientNACtx, err := clientNA.NewContext()
	if err != nil {
		return nil, err
	}

	serverClass, err := hg.Init(serverNA, serverNACtx, &hg.InitOptions{Metrics: engineMetrics})
	if err != nil {
		return nil, err
	}
	defer func() { _ = hg.Finalize(serverClass) }()

	clientClass, err := hg.Init(clientNA, clientNACtx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = hg.Finalize(clientClass) }()

	serverCtx, err := hg.ContextCreate(serverClass)
	if err != nil {
		return nil, err
	}
	clientCtx, err := hg.ContextCreate(clientClass)
	if err != nil {
		return nil, err
	}
	defer func() { _ = hg.ContextDestroy(clientCtx) }()
	defer func() { _ = hg.ContextDestroy(serverCtx) }()

	if _, err := hg.RegisterRPC(serverClass, "echo", echoHandler); err != nil {
		return nil, err
	}
	id, err := hg.RegisterRPC(clientClass, "echo", nil)
	if err != nil {
		return nil, err
	}

	serverAddr, err := clientNA.AddrLookup("server")
	if err != nil {
		return nil, err
	}

	// Server progress loop; stopped once the client is done.
	done := make(chan struct{})
	serverIdle := make(chan struct{})
	go func() {
		defer close(serverIdle)
		for {
			select {
			case <-done:
				return
			default:
			}
			if err := hg.Progress(serverClass, serverCtx, 10*time.Millisecond); err != nil &&
				!errors.Is(err, hg.ErrTimeout) {
				logger.Error("Server progress failed", logger.KeyError, err)
				return
			}
			if _, err := hg.Trigger(serverClass, serverCtx, 0, 16); err != nil &&
				!errors.Is(err, hg.ErrTimeout) {
				logger.Error("Server trigger failed", logger.KeyError, err)
				return
			}
		}
	}()

	result := &benchResult{latencies: make([]time.Duration, 0, cfg.Requests)}
	start := time.Now()

	for i := 0; i < cfg.Requests; i++ {
		latency, err := roundTrip(clientClass, clientCtx, serverAddr, id, cfg, uint64(i))
		if err != nil {
			close(done)
			<-serverIdle
			return nil, fmt.Errorf("round trip %d: %w", i, err)
		}
		result.latencies = append(result.latencies, latency)
	}
	result.elapsed = time.Since(start)

	close(done)
	<-serverIdle
	return result, nil
}

// roundTrip forwards one request and drives the client loop until its
// completion callback fires.
func roundTrip(class *hg.Class, ctx *hg.Context, peer na.Address, id uint32, cfg config.BenchConfig, seq uint64) (time.Duration, error) {
	h, err := hg.Create(class, ctx, peer, id)
	if err != nil {
		return 0, err
	}

	in, err := h.InputBuf()
	if err != nil {
		h.Destroy()
		return 0, err
	}
	if cfg.PayloadSize >= 8 && len(in) >= 8 {
		binary.BigEndian.PutUint64(in[:8], seq)
	}

	var (
		completed bool
		ret       hg.ReturnCode
	)
	start := time.Now()

	if err := hg.Forward(h, func(info *hg.CallbackInfo) {
		completed = true
		ret = info.Ret
	}, nil, 0); err != nil {
		h.Destroy()
		return 0, err
	}

	// The callback runs from Trigger on this goroutine, so the flag
	// needs no synchronization.
	for !completed {
		if err := hg.Progress(class, ctx, cfg.Timeout); err != nil && !errors.Is(err, hg.ErrTimeout) {
			return 0, err
		}
		if _, err := hg.Trigger(class, ctx, 0, 1); err != nil && !errors.Is(err, hg.ErrTimeout) {
			return 0, err
		}
	}

	if ret != hg.Success {
		return 0, ret.Err()
	}
	return time.Since(start), nil
}

// echoHandler copies the request payload into the response payload.
func echoHandler(h *hg.Handle) error {
	in, err := h.InputBuf()
	if err != nil {
		return err
	}
	out, err := h.OutputBuf()
	if err != nil {
		return err
	}
	copy(out, in)

	if err := hg.Respond(h, nil, nil); err != nil {
		return err
	}
	h.Destroy()
	return nil
}

// printResult renders the latency table.
func printResult(cmd *cobra.Command, cfg config.BenchConfig, result *benchResult) {
	sorted := append([]time.Duration(nil), result.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	rps := float64(len(sorted)) / result.elapsed.Seconds()
	table.Append([]string{"Requests", fmt.Sprintf("%d", len(sorted))})
	table.Append([]string{"Payload size", fmt.Sprintf("%d B", cfg.PayloadSize)})
	table.Append([]string{"Elapsed", result.elapsed.String()})
	table.Append([]string{"Throughput", fmt.Sprintf("%.0f req/s", rps)})
	if len(sorted) > 0 {
		table.Append([]string{"Latency min", sorted[0].String()})
		table.Append([]string{"Latency p50", percentile(sorted, 50).String()})
		table.Append([]string{"Latency p99", percentile(sorted, 99).String()})
		table.Append([]string{"Latency max", sorted[len(sorted)-1].String()})
	}
	table.Render()
}

// percentile picks the pth percentile from an ascending-sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
