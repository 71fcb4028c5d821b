package ingest

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/rainwatch/internal/metrics"
	"github.com/lox/rainwatch/internal/models"
)

// ftpSession is the part of an FTP control connection the mirror uses.
type ftpSession interface {
	Login(user, password string) error
	Fetch(file string) ([]byte, error)
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Fetch(file string) ([]byte, error) {
	resp, err := c.Retr(file)
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

// FTPForecastSource reads classic XML forecasts from an anonymous FTP
// mirror laid out as <dir>/<place name>.xml.
type FTPForecastSource struct {
	host    string
	dir     string
	timeout time.Duration
	dial    func(ctx context.Context) (ftpSession, error)
}

func NewFTPForecastSource(host, dir string) *FTPForecastSource {
	s := &FTPForecastSource{host: host, dir: dir, timeout: 30 * time.Second}
	s.dial = s.dialServer
	return s
}

func (s *FTPForecastSource) dialServer(ctx context.Context) (ftpSession, error) {
	conn, err := ftp.Dial(s.host, ftp.DialWithTimeout(s.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, err
	}
	return serverConn{conn}, nil
}

// path maps a place to its file. A slash in the name would address a
// subdirectory, so it is replaced.
func (s *FTPForecastSource) path(place models.Place) string {
	return path.Join(s.dir, strings.ReplaceAll(place.Name, "/", "_")+".xml")
}

func (s *FTPForecastSource) FetchForecast(ctx context.Context, place models.Place) ([]models.ForecastPoint, []byte, error) {
	start := time.Now()
	body, err := s.retrieve(ctx, s.path(place))
	metrics.APILatency.WithLabelValues("ftp", "retr").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APICallsTotal.WithLabelValues("ftp", "retr", "error").Inc()
		return nil, nil, err
	}
	metrics.APICallsTotal.WithLabelValues("ftp", "retr", "ok").Inc()

	points, err := decodePlaceForecast("ftp", place, body)
	return points, body, err
}

func (s *FTPForecastSource) retrieve(ctx context.Context, file string) ([]byte, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	body, err := conn.Fetch(file)
	if err != nil {
		return nil, fmt.Errorf("ftp retr %s: %w", file, err)
	}
	return body, nil
}
