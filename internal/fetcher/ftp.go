package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/resilience"
)

// ftpTarget is a parsed ftp:// reference.
type ftpTarget struct {
	host, path string
	user, pass string
}

// parseFTPURL extracts host (with port), path and credentials from an FTP
// URL. Without userinfo the login is anonymous.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		return ftpTarget{}, eris.New("empty path in ftp url")
	}

	t := ftpTarget{host: u.Host, path: u.Path, user: "anonymous", pass: "anonymous@"}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if u.User != nil {
		t.user = u.User.Username()
		t.pass, _ = u.User.Password()
	}
	return t, nil
}

// downloadFTP retrieves ref into dest. FTP offers no validator, so every
// call downloads the file again.
func (l *Localizer) downloadFTP(ctx context.Context, ref, dest string) error {
	t, err := parseFTPURL(ref)
	if err != nil {
		return err
	}
	if err := l.opts.Limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limiter wait")
	}

	zap.L().Debug("fetcher: ftp connecting", zap.String("host", t.host), zap.String("path", t.path))
	conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(l.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return resilience.Transient(eris.Wrap(err, "ftp dial"))
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login(t.user, t.pass); err != nil {
		return eris.Wrap(err, "ftp login")
	}
	resp, err := conn.Retr(t.path)
	if err != nil {
		return eris.Wrap(err, "ftp retrieve")
	}
	defer resp.Close() //nolint:errcheck

	tmp := dest + ".part"
	out, err := os.Create(tmp) //nolint:gosec
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	if _, err := io.Copy(out, resp); err != nil {
		_ = out.Close()
		return resilience.Transient(eris.Wrap(err, "write file"))
	}
	if err := out.Close(); err != nil {
		return eris.Wrap(err, "close file")
	}
	return eris.Wrap(os.Rename(tmp, dest), "rename file")
}
