package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	client "github.com/shardpipe/shardpipe"
)

var (
	cache *client.Client

	rootCmd = &cobra.Command{
		Use:   "shardpipe",
		Short: "memcached command line client",
		Long: `shardpipe talks to one or more memcached servers with pipelined
connections and consistent key assignment. Every global flag can also be
set through a SHARDPIPE_ environment variable or a .env file; the --ttl and
--delay flags are read from the command line only.`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringSlice("servers", []string{"127.0.0.1:11211"}, "server pool, order matters for key assignment")
	pf.String("namespace", "", "prefix prepended to every key")
	pf.Bool("ketama", false, "use consistent hashing for key assignment")
	pf.Bool("jump", false, "use jump hashing (equal weights only)")
	pf.Bool("nowait", false, "fire-and-forget mutations")
	pf.Bool("utf8", false, "tag stored strings so reads return text")
	pf.Duration("connect-timeout", client.DefaultConnectTimeout, "per-attempt connect timeout, 0 disables")
	pf.Duration("io-timeout", client.DefaultIOTimeout, "batch reply deadline, 0 disables")
	pf.Int("compress-threshold", 0, "compress values of at least this many bytes, 0 disables")
	pf.String("compress-algo", "gzip", "compression algorithm (gzip, zstd, snappy)")
	pf.Bool("verbose", false, "debug logging")
}

func initConfig() {
	_ = godotenv.Load(".env")
	viper.SetEnvPrefix("shardpipe")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// connect builds the client from flags, viper environment values filling in
// anything the command line left at its default.
func connect(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	specs := make([]client.ServerSpec, 0)
	for _, s := range viper.GetStringSlice("servers") {
		addr := s
		weight := 1.0
		if i := strings.LastIndex(s, "="); i > 0 {
			if _, err := fmt.Sscanf(s[i+1:], "%f", &weight); err == nil {
				addr = s[:i]
			}
		}
		specs = append(specs, client.ServerSpec{Address: addr, Weight: weight})
	}

	connectTimeout := viper.GetDuration("connect-timeout")
	if connectTimeout == 0 {
		connectTimeout = client.NoTimeout
	}
	ioTimeout := viper.GetDuration("io-timeout")
	if ioTimeout == 0 {
		ioTimeout = client.NoTimeout
	}

	var err error
	cache, err = client.New(client.Config{
		Servers:           specs,
		Namespace:         viper.GetString("namespace"),
		Ketama:            viper.GetBool("ketama"),
		JumpHash:          viper.GetBool("jump"),
		Nowait:            viper.GetBool("nowait"),
		UTF8:              viper.GetBool("utf8"),
		ConnectTimeout:    connectTimeout,
		IOTimeout:         ioTimeout,
		CompressThreshold: viper.GetInt("compress-threshold"),
		CompressAlgo:      viper.GetString("compress-algo"),
		Logger:            logger,
	})
	return err
}

func closeClient(*cobra.Command, []string) {
	if cache != nil {
		cache.Close()
	}
}

func exptimeFlag(cmd *cobra.Command) int {
	d, _ := cmd.Flags().GetDuration("ttl")
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
