// Command scanner prints every FreeClip advertisement the adapter sees,
// with the raw record and its decoded battery levels. It is a debugging aid
// for checking byte offsets against real hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/freeclip/decoder"
	"github.com/mjasion/balena-home/freeclip/filter"
	"github.com/mjasion/balena-home/freeclip/radio"
	"github.com/mjasion/balena-home/freeclip/session"
	"github.com/mjasion/balena-home/freeclip/types"
)

func main() {
	name := flag.String("name", filter.DefaultDeviceName, "Device name substring to match")
	address := flag.String("address", "", "Only show this hardware address")
	duration := flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	all := flag.Bool("all", false, "Print every frame, not just the first per device and payload")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	p := &printer{
		filter:  filter.New(*name),
		address: strings.ToUpper(*address),
		all:     *all,
		seen:    make(map[string]string),
	}

	adapter := radio.New(bluetooth.DefaultAdapter, nil, logger)
	if err := adapter.StartScan(p); err != nil {
		logger.Error("failed to start scan", zap.Error(err))
		os.Exit(1)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("FreeClip scanner started")
	if p.address != "" {
		fmt.Printf("Filtering for MAC: %s\n", p.address)
	} else {
		fmt.Printf("Filtering for name containing: %q\n", *name)
	}
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	<-ctx.Done()
	if err := adapter.StopScan(); err != nil {
		logger.Warn("failed to stop scan", zap.Error(err))
	}
}

type printer struct {
	filter  *filter.Filter
	address string
	all     bool

	mu   sync.Mutex
	seen map[string]string // address -> last printed payload
}

func (p *printer) OnResult(frame types.Frame) {
	if !p.filter.Accept(frame, p.address) {
		return
	}

	dump := decoder.HexDump(frame.Payload)
	p.mu.Lock()
	if !p.all && p.seen[frame.Address] == dump {
		p.mu.Unlock()
		return
	}
	p.seen[frame.Address] = dump
	p.mu.Unlock()

	printFrame(frame, dump)
}

func (p *printer) OnFailure(code int) {
	fmt.Fprintf(os.Stderr, "scan failed with code %d\n", code)
}

func printFrame(frame types.Frame, dump string) {
	fmt.Println("┌─────────────────────────────────────────────────────────")
	fmt.Printf("│ Timestamp: %s\n", frame.ReceivedAt.Format(time.DateTime))
	fmt.Printf("│ Device:    %s\n", frame.Name)
	fmt.Printf("│ MAC:       %s\n", frame.Address)

	strength := getSignalStrength(frame.RSSI)
	fmt.Printf("│ RSSI:      %d dBm [%s] %s\n", frame.RSSI, strength.bar, strength.label)
	fmt.Printf("│ Payload:   %s (%d bytes)\n", dump, len(frame.Payload))

	reading, err := decoder.Decode(frame.Payload)
	switch {
	case errors.Is(err, decoder.ErrSentinelReading):
		fmt.Println("│ Battery:   sentinel, ignored")
	case err != nil:
		fmt.Printf("│ Battery:   %v\n", err)
	default:
		for _, line := range strings.Split(session.FormatReading(frame, reading), "\n") {
			fmt.Printf("│   %s\n", line)
		}
	}
	fmt.Println("└─────────────────────────────────────────────────────────")
	fmt.Println()
}

type signalStrength struct {
	bar   string
	label string
}

func getSignalStrength(rssi int16) signalStrength {
	switch {
	case rssi >= -50:
		return signalStrength{"████████", "Excellent"}
	case rssi >= -60:
		return signalStrength{"██████  ", "Good"}
	case rssi >= -70:
		return signalStrength{"████    ", "Fair"}
	case rssi >= -80:
		return signalStrength{"██      ", "Weak"}
	default:
		return signalStrength{"        ", "Very Weak"}
	}
}
