package call

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/ValentinKolb/dRPC/rpc/transport/tcp"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// CallCmd sends one or more requests to a remote service through a
	// single socket worker
	CallCmd = &cobra.Command{
		Use:   "call <service> <method> [payload]",
		Short: "Invoke a method on a remote service",
		Long:  util.WrapString(`Invoke a method on a remote RPC service through a single socket worker. The worker connects, sends the request and prints the response. With --count > 1 the request is repeated and a latency summary is printed instead.`),
		Args:  cobra.RangeArgs(2, 3),
		RunE:  run,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common worker flags
	util.SetupRPCClientFlags(CallCmd)

	CallCmd.Flags().Int("count", 1, util.WrapString("Number of times to send the request (perf mode when > 1)"))
}

// callObserver bridges worker callbacks onto channels the command can select on
type callObserver struct {
	connected chan transport.Event
	data      chan *common.Message
	closed    chan transport.Event
}

func newCallObserver() *callObserver {
	return &callObserver{
		connected: make(chan transport.Event, 1),
		data:      make(chan *common.Message, 16),
		closed:    make(chan transport.Event, 1),
	}
}

func (o *callObserver) OnConnect(e transport.Event) { o.connected <- e }
func (o *callObserver) OnData(msg *common.Message)  { o.data <- msg }
func (o *callObserver) OnClose(e transport.Event)   { o.closed <- e }

func run(cmd *cobra.Command, args []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()
	common.InitLoggers("warn") // keep command output readable

	serializer, err := util.GetSerializer()
	if err != nil {
		return err
	}

	service, method := args[0], args[1]
	var payload []byte
	if len(args) == 3 {
		payload = []byte(args[2])
	}
	count := viper.GetInt("count")
	if count < 1 {
		count = 1
	}

	observer := newCallObserver()
	worker, err := tcp.NewTCPWorker(config, serializer, observer)
	if err != nil {
		return err
	}
	defer worker.Close()

	timeout := time.Duration(config.TimeoutSecond) * time.Second

	// Wait for the initial connect
	select {
	case <-observer.connected:
	case e := <-observer.closed:
		return fmt.Errorf("worker %d gave up connecting to %s:%d", e.WorkerID, e.Host, e.Port)
	case <-time.After(timeout):
		return fmt.Errorf("timed out connecting to %s", config.Endpoint)
	}

	// Perf mode samples latencies into a timer
	timer := gometrics.NewTimer()

	var lastResp *common.Message
	for i := 0; i < count; i++ {
		ctx := common.NewRequestContext(uint64(i+1), common.NewCallRequest(service, method, payload))

		start := time.Now()
		if err := worker.Write(ctx); err != nil {
			return fmt.Errorf("request %d failed: %v", ctx.RequestID, err)
		}

		select {
		case resp := <-observer.data:
			timer.UpdateSince(start)
			lastResp = resp
		case e := <-observer.closed:
			return fmt.Errorf("worker %d lost %s:%d with %d requests in flight", e.WorkerID, e.Host, e.Port, len(worker.Pending()))
		case <-time.After(timeout):
			return fmt.Errorf("timed out waiting for response %d", ctx.RequestID)
		}
	}

	if count > 1 {
		printSummary(timer, count)
		return nil
	}

	if lastResp.Err != "" {
		return fmt.Errorf("remote error: %s", lastResp.Err)
	}
	fmt.Printf("%s\n", lastResp.Payload)
	return nil
}

// printSummary prints the latency distribution of a perf run
func printSummary(timer gometrics.Timer, count int) {
	toMs := func(ns float64) float64 { return ns / float64(time.Millisecond) }

	fmt.Printf("requests : %d\n", count)
	fmt.Printf("mean     : %.3f ms\n", toMs(timer.Mean()))
	fmt.Printf("p50      : %.3f ms\n", toMs(timer.Percentile(0.50)))
	fmt.Printf("p95      : %.3f ms\n", toMs(timer.Percentile(0.95)))
	fmt.Printf("p99      : %.3f ms\n", toMs(timer.Percentile(0.99)))
	fmt.Printf("max      : %.3f ms\n", toMs(float64(timer.Max())))
	fmt.Printf("rate     : %.1f req/s\n", timer.RateMean())
}
