package gps

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/apex/log"
	"go.bug.st/serial"
)

// Baud rates tried by DetectBaud, most common first.
var BaudRates = []int{9600, 115200, 38400, 4800}

// OpenSerial opens a receiver at 8N1.
func OpenSerial(path string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s at %d baud: %w", path, baud, err)
	}
	return port, nil
}

// DetectBaud returns the first baud rate at which the port yields valid
// NMEA sentences.
func DetectBaud(path string) (int, error) {
	for _, baud := range BaudRates {
		port, err := OpenSerial(path, baud)
		if err != nil {
			return 0, err
		}
		if sp, ok := port.(serial.Port); ok {
			_ = sp.SetReadTimeout(500 * time.Millisecond)
		}
		ok := looksLikeNMEA(port, 2*time.Second)
		port.Close()
		if ok {
			log.Infof("detected %s at %d baud", path, baud)
			return baud, nil
		}
	}
	return 0, fmt.Errorf("no NMEA data on %s at any of %v baud", path, BaudRates)
}

func looksLikeNMEA(r io.Reader, window time.Duration) bool {
	scanner := bufio.NewScanner(r)
	deadline := time.Now().Add(window)
	valid := 0
	for time.Now().Before(deadline) && scanner.Scan() {
		if _, err := nmea.Parse(scanner.Text()); err == nil {
			valid++
			if valid >= 2 {
				return true
			}
		}
	}
	return false
}

// Ports lists the serial ports present on this machine.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
