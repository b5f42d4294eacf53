package input

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const fetchTimeout = 30 * time.Second

// IsRemote reports whether the source must be downloaded before reading.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") ||
		strings.HasPrefix(source, "https://") ||
		strings.HasPrefix(source, "ftp://")
}

// fetchRemote downloads the source to a temp file, preserving the
// extension so format dispatch still works. The cleanup func removes it.
func fetchRemote(ctx context.Context, source string) (string, func(), error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", nil, eris.Wrapf(err, "input: parse source %s", source)
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		body, err = httpDownload(ctx, source)
	case "ftp":
		body, err = ftpDownload(ctx, u)
	default:
		err = eris.Errorf("input: unsupported source scheme %q", u.Scheme)
	}
	if err != nil {
		return "", nil, err
	}
	defer body.Close() //nolint:errcheck

	tmp, err := os.CreateTemp("", "indexer-input-*"+path.Ext(u.Path))
	if err != nil {
		return "", nil, eris.Wrap(err, "input: create temp file")
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	n, err := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if err != nil {
		cleanup()
		return "", nil, eris.Wrapf(err, "input: download %s", source)
	}
	if closeErr != nil {
		cleanup()
		return "", nil, eris.Wrap(closeErr, "input: close temp file")
	}

	zap.L().Info("downloaded input list",
		zap.String("source", source),
		zap.Int64("bytes", n),
	)
	return tmp.Name(), cleanup, nil
}

func httpDownload(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "input: create request")
	}
	req.Header.Set("User-Agent", "indexer-cli/1.0")

	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "input: fetch %s", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("input: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// ftpConnReader ties the FTP data stream to its control connection so one
// Close releases both.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "input: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "input: quit ftp connection")
	}
	return nil
}

func ftpDownload(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" {
		return nil, eris.New("input: empty path in ftp url")
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(fetchTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "input: ftp dial")
	}

	user, pass := "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "input: ftp login")
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "input: ftp retrieve")
	}
	return &ftpConnReader{resp: resp, conn: conn}, nil
}
