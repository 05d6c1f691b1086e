package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	client "github.com/shardpipe/shardpipe"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]...",
		Short: "Read one or more keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				item, err := cache.Get(args[0])
				if err != nil {
					if errors.Is(err, client.ErrCacheMiss) {
						fmt.Println("(not found)")
						return nil
					}
					return err
				}
				printValue(item)
				return nil
			}
			items, err := cache.GetMulti(args)
			if err != nil {
				return err
			}
			for _, key := range args {
				if item, ok := items[key]; ok {
					printValue(item)
				} else {
					fmt.Printf("%s: (not found)\n", key)
				}
			}
			return nil
		},
	}

	getsCmd = &cobra.Command{
		Use:   "gets [key]",
		Short: "Read a key with its cas token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := cache.GetWithCAS(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("cas=%d\n", item.CAS)
			printValue(item)
			return nil
		},
	}

	setCmd     = storeCommand("set", "Store a value unconditionally")
	addCmd     = storeCommand("add", "Store a value only if the key is absent")
	replaceCmd = storeCommand("replace", "Store a value only if the key exists")
	appendCmd  = storeCommand("append", "Concatenate after an existing value")
	prependCmd = storeCommand("prepend", "Concatenate before an existing value")

	casCmd = &cobra.Command{
		Use:   "cas [key] [value] [token]",
		Short: "Store a value only if the item is unchanged since gets",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("cas token must be a number: %w", err)
			}
			res, err := cache.CompareAndSwap(args[0], args[1], exptimeFlag(cmd), token)
			if err != nil {
				return err
			}
			fmt.Println(res)
			return nil
		},
	}

	incrCmd = arithCommand("incr", "Add to a numeric value", func(key string, d uint64) (uint64, error) {
		return cache.Increment(key, d)
	})
	decrCmd = arithCommand("decr", "Subtract from a numeric value", func(key string, d uint64) (uint64, error) {
		return cache.Decrement(key, d)
	})

	delCmd = &cobra.Command{
		Use:   "del [key]...",
		Short: "Delete one or more keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, o := range cache.DeleteMulti(args) {
				if o.Err != nil {
					fmt.Printf("%s: %v\n", o.Key, o.Err)
				} else {
					fmt.Printf("%s: %s\n", o.Key, o.Result)
				}
			}
			return nil
		},
	}

	touchCmd = &cobra.Command{
		Use:   "touch [key]",
		Short: "Update a key's expiration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := cache.Touch(args[0], exptimeFlag(cmd))
			if err != nil {
				return err
			}
			fmt.Println(res)
			return nil
		},
	}

	flushCmd = &cobra.Command{
		Use:   "flush",
		Short: "Invalidate every item on every server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			delay, _ := cmd.Flags().GetInt("delay")
			if err := cache.FlushAll(delay); err != nil {
				return err
			}
			fmt.Println("flushed")
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version of every server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := cache.Version()
			for addr, v := range versions {
				fmt.Printf("%s: %s\n", addr, v)
			}
			return err
		},
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Check that every server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cache.Ping(); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
)

func storeCommand(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " [key] [value]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value, exptime := args[0], args[1], exptimeFlag(cmd)
			var (
				res client.MutationResult
				err error
			)
			switch verb {
			case "set":
				res, err = cache.Set(key, value, exptime)
			case "add":
				res, err = cache.Add(key, value, exptime)
			case "replace":
				res, err = cache.Replace(key, value, exptime)
			case "append":
				res, err = cache.Append(key, value, exptime)
			case "prepend":
				res, err = cache.Prepend(key, value, exptime)
			}
			if err != nil {
				return err
			}
			fmt.Println(res)
			return nil
		},
	}
}

func arithCommand(verb, short string, fn func(string, uint64) (uint64, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " [key] [delta]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("delta must be a number: %w", err)
			}
			v, err := fn(args[0], delta)
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
}

func printValue(item client.Item) {
	switch v := item.Value.(type) {
	case []byte:
		fmt.Printf("%s: %s\n", item.Key, v)
	case string:
		fmt.Printf("%s: %s\n", item.Key, v)
	default:
		fmt.Printf("%s: %v\n", item.Key, v)
	}
}

func init() {
	cmds := []*cobra.Command{
		getCmd, getsCmd, setCmd, addCmd, replaceCmd, appendCmd, prependCmd,
		casCmd, incrCmd, decrCmd, delCmd, touchCmd, flushCmd, versionCmd, pingCmd,
	}
	for _, cmd := range cmds {
		cmd.PreRunE = connect
		cmd.PostRun = closeClient
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{setCmd, addCmd, replaceCmd, appendCmd, prependCmd, casCmd, touchCmd} {
		cmd.Flags().Duration("ttl", 0, "time to live, 0 keeps the item until evicted")
	}
	flushCmd.Flags().Int("delay", 0, "stagger the flush across servers over this many seconds")
}
