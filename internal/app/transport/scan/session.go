package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/pkg/logger"
)

// ErrNoAdvertisement is returned when the scan window elapses without a
// well-formed advertisement from the target address.
var ErrNoAdvertisement = errors.New("no matching advertisement within scan window")

// Session runs time-boxed listens against a broadcast medium. A session can
// carry an auxiliary debug listener that logs packets from a second address
// without ever affecting the primary result.
type Session struct {
	medium       Medium
	log          *logger.Logger
	debugAddress string
}

// NewSession creates a session over the given medium.
func NewSession(medium Medium, log *logger.Logger) *Session {
	if log == nil {
		log = logger.NewDefault("scan-session")
	}
	return &Session{medium: medium, log: log}
}

// WithDebugListener enables the secondary passive listener for the given
// address. Matching packets are decoded and logged only; decode failures are
// swallowed.
func (s *Session) WithDebugListener(address string) {
	s.debugAddress = NormalizeAddress(address)
}

// Run opens a listening window and returns the first well-formed
// advertisement whose source address equals target, closing the window early
// on capture. The window elapsing without a match yields ErrNoAdvertisement;
// a medium that cannot be opened yields its error wrapped.
func (s *Session) Run(ctx context.Context, target string, window time.Duration) (reading.Advertisement, error) {
	if s.medium == nil {
		return reading.Advertisement{}, fmt.Errorf("no scan medium configured")
	}
	target = NormalizeAddress(target)
	if target == "" {
		return reading.Advertisement{}, fmt.Errorf("target address is required")
	}
	if window <= 0 {
		window = time.Second
	}

	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	// Capacity one: the first match wins, later packets fall through to the
	// default case and are dropped.
	found := make(chan reading.Advertisement, 1)

	scanErr := s.medium.Scan(scanCtx, func(p Packet) {
		addr := NormalizeAddress(p.Address)

		if s.debugAddress != "" && addr == s.debugAddress {
			s.logDebugPacket(p)
		}
		if addr != target {
			return
		}

		adv, perr := ParseAdvertisement(p)
		if perr != nil {
			s.log.WithError(perr).
				WithField("address", addr).
				Debug("discarding malformed advertisement")
			return
		}

		select {
		case found <- adv:
			cancel()
		default:
		}
	})

	select {
	case adv := <-found:
		return adv, nil
	default:
	}

	if scanErr != nil && !errors.Is(scanErr, context.Canceled) && !errors.Is(scanErr, context.DeadlineExceeded) {
		return reading.Advertisement{}, fmt.Errorf("scan medium: %w", scanErr)
	}
	if err := ctx.Err(); err != nil {
		return reading.Advertisement{}, err
	}
	return reading.Advertisement{}, ErrNoAdvertisement
}

func (s *Session) logDebugPacket(p Packet) {
	adv, err := ParseAdvertisement(p)
	if err != nil {
		return
	}
	entry := s.log.WithField("address", adv.Address).
		WithField("model", string(adv.ModelCode)).
		WithField("rssi", p.RSSI)
	if adv.TemperatureC != nil {
		entry = entry.WithField("temperature_c", *adv.TemperatureC)
	}
	if adv.HumidityPct != nil {
		entry = entry.WithField("humidity_pct", *adv.HumidityPct)
	}
	if adv.BatteryPct != nil {
		entry = entry.WithField("battery_pct", *adv.BatteryPct)
	}
	entry.Debug("debug listener advertisement")
}
