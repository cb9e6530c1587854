package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	dissect "github.com/netdissect/go-dissect"
	"github.com/netdissect/go-dissect/capture"
	"github.com/netdissect/go-dissect/loop"
)

var (
	useSyscalls bool
	promiscuous bool
	debug       bool
	iface       string
	snaplen     int32
	timeout     time.Duration
	count       int
	preview     int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dissect",
	Short: "Capture frames from all interfaces (default) or a given interface and print their decoded layers",
	Long: `Capture frames from all interfaces (default) or a given interface, decode
Ethernet/IPv4/IPv6/TCP/UDP/ICMP headers, and print one summary line per frame.
A frame that cannot be decoded is reported and skipped; it never stops the capture.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			log.SetLevel(log.DebugLevel)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("capturing from interface %q\n", iface)
		handle, err := capture.OpenLive(ctx, iface, snaplen, promiscuous, timeout, useSyscalls)
		if err != nil {
			return err
		}
		defer handle.Close()

		var sink loop.Sink = &loop.WriterSink{W: os.Stdout, PreviewLen: preview}
		if count > 0 {
			sink = stopAfter(count, sink, stop)
		}

		l := loop.New(handle, sink)
		err = l.Run(ctx)
		stats := l.Stats()
		fmt.Printf("%d frames: %d decoded, %d truncated, %d malformed, %d unsupported\n",
			stats.Frames, stats.Decoded, stats.Truncated, stats.Malformed, stats.Unsupported)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// stopAfter wraps a sink and cancels the capture once n frames were consumed.
func stopAfter(n int, next loop.Sink, cancel func()) loop.Sink {
	seen := 0
	return loop.SinkFunc(func(frame dissect.RawFrame, res dissect.Result) error {
		err := next.Consume(frame, res)
		seen++
		if seen >= n {
			cancel()
		}
		return err
	})
}

func init() {
	rootCmd.Flags().BoolVar(&useSyscalls, "syscalls", capture.DefaultSyscalls, "use syscalls instead of mmap when mmap is available; the default varies by platform")
	rootCmd.Flags().BoolVarP(&promiscuous, "promiscuous", "p", false, "put the interface into promiscuous mode")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "print lots of debugging messages")
	rootCmd.Flags().StringVarP(&iface, "interface", "i", "", "interface from which to capture, default to all")
	rootCmd.Flags().Int32Var(&snaplen, "snaplen", 65536, "maximum bytes to capture per frame; longer frames are truncated")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "poll timeout per read, e.g. 100ms; default 0 means block until a frame arrives")
	rootCmd.Flags().IntVarP(&count, "count", "c", 0, "stop after this many frames; default 0 means run until interrupted")
	rootCmd.Flags().IntVar(&preview, "preview", 8, "payload bytes to print per frame; 0 disables the preview")
}
