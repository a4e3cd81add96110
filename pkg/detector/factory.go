package detector

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luaidle/luaidle/pkg/idle"
	"github.com/luaidle/luaidle/pkg/integrations/wayland"
	"github.com/luaidle/luaidle/pkg/integrations/x11"
)

// ErrNoDisplay is returned when neither a Wayland nor an X11 session is found
var ErrNoDisplay = errors.New("detector: no display server detected")

type Options struct {
	Preferred    string // "auto", "wayland" or "x11"
	Seat         string
	PollInterval time.Duration
}

// New returns an unconnected backend for the preferred display server, or
// for the one detected from the environment when Preferred is "auto".
func New(opts Options, logger *zap.Logger) (idle.Backend, error) {
	server := opts.Preferred
	if server == "" || server == "auto" {
		server = DetectDisplayServer()
	}

	switch server {
	case "wayland":
		return wayland.New(opts.Seat, logger), nil
	case "x11":
		return x11.New(opts.PollInterval, logger), nil
	case "unknown":
		return nil, ErrNoDisplay
	default:
		return nil, errors.Errorf("detector: unsupported backend %q", server)
	}
}

func DetectDisplayServer() string {
	sessionType := os.Getenv("XDG_SESSION_TYPE")
	waylandDisplay := os.Getenv("WAYLAND_DISPLAY")
	x11Display := os.Getenv("DISPLAY")

	if sessionType == "wayland" || waylandDisplay != "" {
		return "wayland"
	}

	if sessionType == "x11" || x11Display != "" {
		return "x11"
	}

	return "unknown"
}
