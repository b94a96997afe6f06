package homekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"

	"tuya-lights/internal/application"
)

// maxAccessories is the HomeKit limit for accessories behind one bridge,
// including the bridge itself.
const maxAccessories = 150

type Config struct {
	Name        string
	Pin         string
	StoragePath string
	Addr        string
}

// Server exposes the lights through a HomeKit bridge accessory.
type Server struct {
	server      *hap.Server
	accessories []*Accessory
	logger      *slog.Logger
}

func NewServer(cfg Config, lights []*application.LightAccessory, logger *slog.Logger) (*Server, error) {
	bridge := accessory.NewBridge(accessory.Info{
		Name:         cfg.Name,
		Manufacturer: "Tuya",
		Model:        "tuya-lights",
	})

	s := &Server{logger: logger}
	var as []*accessory.A
	for _, l := range lights {
		if l.Profile() == application.ProfileUnknown {
			logger.Warn("light not published to homekit", "device", l.ID(), "name", l.Name())
			continue
		}
		if len(as)+1 >= maxAccessories {
			logger.Warn("homekit accessory limit reached, skipping light", "device", l.ID(), "name", l.Name())
			continue
		}
		acc := NewAccessory(l, logger)
		s.accessories = append(s.accessories, acc)
		as = append(as, acc.A)
	}

	server, err := hap.NewServer(hap.NewFsStore(cfg.StoragePath), bridge.A, as...)
	if err != nil {
		return nil, fmt.Errorf("creating homekit server: %w", err)
	}
	server.Pin = cfg.Pin
	server.Addr = cfg.Addr
	s.server = server

	return s, nil
}

func (s *Server) Accessories() []*Accessory {
	return s.accessories
}

// Unpublished returns the publishable lights that have no accessory on the
// bridge. The accessory set is fixed once the server is built, so lights
// discovered later only show up after a restart.
func (s *Server) Unpublished(lights []*application.LightAccessory) []*application.LightAccessory {
	published := make(map[string]bool, len(s.accessories))
	for _, a := range s.accessories {
		published[a.light.ID()] = true
	}

	var out []*application.LightAccessory
	for _, l := range lights {
		if l.Profile() != application.ProfileUnknown && !published[l.ID()] {
			out = append(out, l)
		}
	}
	return out
}

// ListenAndServe publishes the bridge until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.logger.Info("homekit bridge starting", "accessories", len(s.accessories), "addr", s.server.Addr)
	err := s.server.ListenAndServe(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("homekit server: %w", err)
	}
	return nil
}
