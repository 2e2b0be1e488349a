// locate acquires one position from a serial GPS receiver or a recording
// and prints the accepted fix as JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/goccy/go-json"

	"olhovivo/geolocation"
	"olhovivo/gps"
)

var (
	device       = flag.String("device", "", "Serial device of the NMEA receiver, e.g. /dev/ttyUSB0.")
	baud         = flag.Int("baud", 0, "Baud rate of the receiver. Detected when 0.")
	replay       = flag.String("replay", "", "Newline-delimited JSON recording to play back instead of a device.")
	speed        = flag.Float64("speed", 1, "Replay speed factor. 0 plays without delays.")
	profile      = flag.String("profile", geolocation.ProfilePrecise, "Acquisition profile.")
	profilesFile = flag.String("profiles", "", "YAML file with acquisition profiles.")
	list         = flag.Bool("list", false, "List serial ports and exit.")
)

func main() {
	flag.Parse()

	if *list {
		ports, err := gps.Ports()
		if err != nil {
			log.Fatalf("Failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	profiles, err := geolocation.LoadProfiles(*profilesFile)
	if err != nil {
		log.Fatalf("Failed to load profiles: %v", err)
	}
	cfg, err := profiles.Get(*profile)
	if err != nil {
		log.Fatalf("%v", err)
	}

	positioner, err := newPositioner()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	acquirer := geolocation.NewAcquirer(positioner)
	sub, err := acquirer.Start(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start acquisition: %s", geolocation.AsAcquisitionError(err).UserMessage())
	}
	go func() {
		<-ctx.Done()
		acquirer.Cancel(sub)
	}()

	for p := range sub.Progress() {
		entry := log.WithFields(log.Fields{
			"samples": p.SamplesSeen,
			"status":  p.Status.String(),
		})
		if p.BestAccuracy != nil {
			entry = entry.WithField("best", fmt.Sprintf("%.1fm", *p.BestAccuracy))
		}
		entry.Info(p.Message)
	}
	<-sub.Done()

	outcome, _ := sub.Outcome()
	if outcome.Status != geolocation.StatusAccepted {
		aerr := geolocation.AsAcquisitionError(outcome.Err)
		if aerr == nil {
			log.Fatalf("Acquisition ended without a fix (%s)", outcome.Status)
		}
		log.WithField("reason", string(aerr.Reason)).Error(aerr.UserMessage())
		os.Exit(1)
	}

	out, err := json.MarshalIndent(struct {
		*geolocation.Fix
		Label string `json:"label"`
	}{outcome.Fix, geolocation.AccuracyLabel(outcome.Fix.Accuracy)}, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode fix: %v", err)
	}
	fmt.Println(string(out))
}

func newPositioner() (geolocation.Positioner, error) {
	switch {
	case *replay != "":
		f, err := os.Open(*replay)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		records, err := geolocation.ReadRecording(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", *replay, err)
		}
		return geolocation.NewReplayPositioner(records, *speed), nil
	case *device != "":
		return gps.NewSerialPositioner(*device, *baud), nil
	default:
		return nil, fmt.Errorf("one of -device or -replay is required")
	}
}
