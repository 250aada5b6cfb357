package serve

import (
	"fmt"

	"github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/transport/tcp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// ServeCmd starts a demo echo server speaking the dRPC wire protocol
	ServeCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start a demo echo server",
		Long:  util.WrapString(`Start a demo server that answers heartbeat probes and echoes every request payload back to the caller. Useful as a peer for the call command and for integration testing.`),
		RunE:  run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:20880", util.WrapString("The address on which the server will listen"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int(key, 60, util.WrapString("Per-connection read/write deadline in seconds"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

func run(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	config := common.ServerConfig{
		Endpoint:      viper.GetString("endpoint"),
		TimeoutSecond: viper.GetInt("timeout"),
		LogLevel:      viper.GetString("log-level"),
	}
	common.InitLoggers(config.LogLevel)

	serializer, err := util.GetSerializer()
	if err != nil {
		return err
	}

	fmt.Println(config.String())

	server := tcp.NewTCPServerTransport(serializer)
	server.RegisterHandler(func(req *common.Message) *common.Message {
		return common.NewReplyResponse(req.Payload, nil)
	})

	return server.Listen(config)
}
