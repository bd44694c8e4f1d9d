package etl

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// rawDropFiles are the CSVs a partner FTP drop must carry before transform
// can run. metadata.json is optional and ignored when absent.
var rawDropFiles = []string{
	"dim_site.csv", "dim_customer.csv", "dim_team.csv", "dim_category.csv",
	"dim_carrier.csv", "dim_product.csv",
	"fact_jobs.csv", "fact_incidents.csv", "fact_comms.csv", "fact_costs.csv",
	"fact_automation_events.csv", "scenario_registry.csv",
}

// FTPOptions configures the raw-drop fetcher.
type FTPOptions struct {
	Timeout time.Duration
	User    string
	Pass    string
}

// FTPFetcher pulls a raw CSV drop from a partner FTP server.
type FTPFetcher struct {
	opts FTPOptions
}

func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Pass = "anonymous@"
	}
	return &FTPFetcher{opts: opts}
}

// parseFTPURL extracts host (with port) and base path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "etl: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("etl: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	return host, u.Path, nil
}

// FetchRawDrop downloads every expected raw CSV from the FTP base URL into
// rawDir over a single connection. A missing file on the server fails the
// fetch; a partial drop should never reach transform.
func (f *FTPFetcher) FetchRawDrop(ctx context.Context, ftpURL, rawDir string) error {
	host, basePath, err := parseFTPURL(ftpURL)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return eris.Wrap(err, "etl: create raw dir")
	}

	zap.L().Debug("ftp: connecting", zap.String("host", host), zap.String("base", basePath))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return eris.Wrap(err, "etl: ftp dial")
	}
	defer conn.Quit()

	if err := conn.Login(f.opts.User, f.opts.Pass); err != nil {
		return eris.Wrap(err, "etl: ftp login")
	}

	for _, name := range rawDropFiles {
		remote := filepath.ToSlash(filepath.Join(basePath, name))
		if err := fetchOne(conn, remote, filepath.Join(rawDir, name)); err != nil {
			return err
		}
	}

	zap.L().Info("raw drop fetched",
		zap.String("host", host),
		zap.Int("files", len(rawDropFiles)))
	return nil
}

func fetchOne(conn *ftp.ServerConn, remote, local string) error {
	resp, err := conn.Retr(remote)
	if err != nil {
		return eris.Wrapf(err, "etl: ftp retrieve %s", remote)
	}
	defer resp.Close()

	file, err := os.Create(local)
	if err != nil {
		return eris.Wrapf(err, "etl: create %s", local)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp); err != nil {
		return eris.Wrapf(err, "etl: write %s", local)
	}
	return nil
}
