package capture

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// Source reads raw frames from a display. Implementations must be safe for
// concurrent use across displays; callers serialize reads on the same
// display themselves.
type Source interface {
	// CaptureScreen grabs the full root window of the display.
	CaptureScreen(ctx context.Context, display string) (Frame, error)
	// CaptureWindow grabs a single window by X window id.
	CaptureWindow(ctx context.Context, display string, windowID uint32) (Frame, error)
}

// ConnProvider hands out cached X connections per display string.
type ConnProvider interface {
	Conn(display string) (*xgb.Conn, error)
	CloseConn(display string)
}

// X11Source captures frames over the X protocol.
type X11Source struct {
	conns ConnProvider
}

// NewX11Source creates a source backed by the given connection cache.
func NewX11Source(conns ConnProvider) *X11Source {
	return &X11Source{conns: conns}
}

func (s *X11Source) CaptureScreen(ctx context.Context, display string) (Frame, error) {
	conn, err := s.conns.Conn(display)
	if err != nil {
		return Frame{}, err
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)
	f, err := s.grab(conn, xproto.Drawable(screen.Root),
		int(screen.WidthInPixels), int(screen.HeightInPixels))
	if err != nil {
		// A dead connection poisons the cache; drop it so the next
		// attempt reconnects.
		s.conns.CloseConn(display)
		return Frame{}, fmt.Errorf("screen capture on %s failed: %w", display, err)
	}
	return f, nil
}

func (s *X11Source) CaptureWindow(ctx context.Context, display string, windowID uint32) (Frame, error) {
	conn, err := s.conns.Conn(display)
	if err != nil {
		return Frame{}, err
	}
	drawable := xproto.Drawable(windowID)
	geom, err := xproto.GetGeometry(conn, drawable).Reply()
	if err != nil {
		return Frame{}, fmt.Errorf("window %d geometry on %s failed: %w", windowID, display, err)
	}
	f, err := s.grab(conn, drawable, int(geom.Width), int(geom.Height))
	if err != nil {
		s.conns.CloseConn(display)
		return Frame{}, fmt.Errorf("window %d capture on %s failed: %w", windowID, display, err)
	}
	return f, nil
}

func (s *X11Source) grab(conn *xgb.Conn, drawable xproto.Drawable, w, h int) (Frame, error) {
	reply, err := xproto.GetImage(conn, xproto.ImageFormatZPixmap, drawable,
		0, 0, uint16(w), uint16(h), 0xffffffff).Reply()
	if err != nil {
		return Frame{}, err
	}
	if len(reply.Data) < w*h*4 {
		return Frame{}, fmt.Errorf("short image reply: got %d bytes for %dx%d", len(reply.Data), w, h)
	}
	// ZPixmap at depth 24 packs pixels as BGRX.
	rgb := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		rgb[i*3+0] = reply.Data[i*4+2]
		rgb[i*3+1] = reply.Data[i*4+1]
		rgb[i*3+2] = reply.Data[i*4+0]
	}
	return Frame{RGB: rgb, Width: w, Height: h}, nil
}

// ParseWindowID accepts decimal or 0x-prefixed hex X window ids.
func ParseWindowID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid window id %q: %w", s, err)
	}
	return uint32(id), nil
}
