package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dRPC/rpc/codec"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupRPCClientFlags adds common worker connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The dial and write timeout in seconds"))

	key = "endpoint"
	cmd.PersistentFlags().String(key, "localhost:20880", WrapString("The host:port of the remote RPC service"))

	key = "max-retries"
	cmd.PersistentFlags().Int(key, common.DefaultMaxRetries, WrapString("How many reconnection attempts before the worker becomes closed"))

	key = "retry-delay-ms"
	cmd.PersistentFlags().Int(key, common.DefaultRetryDelayMs, WrapString("Fixed delay between reconnection attempts in milliseconds"))

	key = "heartbeat-interval-ms"
	cmd.PersistentFlags().Int(key, common.DefaultHeartbeatIntervalMs, WrapString("Heartbeat probe cadence in milliseconds, 0 disables heartbeats"))

	key = "heartbeat-timeout-ms"
	cmd.PersistentFlags().Int(key, 0, WrapString("Peer silence threshold in milliseconds, defaults to three times the interval"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The size of the socket write buffer (in KB)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The size of the socket read buffer (in KB)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the connection"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the connection (in seconds)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for the connection (in seconds)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("drpc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() common.ClientConfig {
	return common.ClientConfig{
		Endpoint:      viper.GetString("endpoint"),
		TimeoutSecond: viper.GetInt("timeout"),
		Worker: common.WorkerConf{
			MaxRetries:          viper.GetInt("max-retries"),
			RetryDelayMs:        viper.GetInt("retry-delay-ms"),
			HeartbeatIntervalMs: viper.GetInt("heartbeat-interval-ms"),
			HeartbeatTimeoutMs:  viper.GetInt("heartbeat-timeout-ms"),
		},
		Socket: common.SocketConf{
			WriteBufferSize: viper.GetInt("write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
		},
		TCP: common.TCPConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
		},
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (codec.ISerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return codec.NewJSONSerializer(), nil
	case "gob":
		return codec.NewGOBSerializer(), nil
	case "binary":
		return codec.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
