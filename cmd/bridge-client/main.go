// bridge-client is a command-line session client for the bridge, used by
// test harnesses and for manual debugging: it connects with the standard
// reconnection backoff, relays stdin lines as payload bytes, and prints
// inbound frames.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ble-mcp-test/ble-bridge/pkg/bridgeclient"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	url := flag.String("url", "ws://127.0.0.1:8080", "bridge URL")
	device := flag.String("device", "", "device name prefix or address")
	service := flag.String("service", "", "GATT service UUID")
	write := flag.String("write", "", "write characteristic UUID")
	notify := flag.String("notify", "", "notify characteristic UUID")
	attempts := flag.Int("attempts", 5, "max connection attempts")
	initialDelay := flag.Duration("initial-delay", time.Second, "first backoff delay")
	factor := flag.Float64("backoff-factor", 1.5, "backoff multiplier")
	probe := flag.Bool("probe", false, "just probe bridge health and exit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	if *probe {
		frame, err := bridgeclient.Probe(ctx, *url)
		if err != nil {
			return err
		}
		free := frame.Free != nil && *frame.Free
		fmt.Printf("status=%s free=%v timestamp=%s\n", frame.Status, free, frame.Timestamp)
		return nil
	}

	sess, err := bridgeclient.ConnectWithRetry(ctx, bridgeclient.Config{
		URL:           *url,
		Device:        *device,
		Service:       *service,
		Write:         *write,
		Notify:        *notify,
		InitialDelay:  *initialDelay,
		BackoffFactor: *factor,
		MaxAttempts:   *attempts,
		Logger:        log,
	})
	if err != nil {
		return err
	}
	defer sess.Close()
	fmt.Printf("connected to %s\n", sess.Device())

	go func() {
		for frame := range sess.Frames() {
			switch frame.Type {
			case "data":
				data, err := frame.DataBytes()
				if err != nil {
					log.Warn("bad data frame", "error", err)
					continue
				}
				fmt.Printf("rx %s\n", hex.EncodeToString(data))
			case "disconnected":
				fmt.Println("device disconnected")
			case "error":
				fmt.Printf("error: %s\n", frame.Error)
			}
		}
	}()

	// Stdin lines become payload bytes: hex if the line parses as hex,
	// raw UTF-8 otherwise.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data, err := hex.DecodeString(strings.ReplaceAll(line, " ", ""))
		if err != nil {
			data = []byte(line)
		}
		if err := sess.Send(ctx, data); err != nil {
			return err
		}
	}
	return scanner.Err()
}
