package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/shaharia-lab/pendulum/internal/assets"
	"github.com/shaharia-lab/pendulum/internal/config"
)

// WebFS is set by main() before Execute() is called.
// It holds the embedded frontend filesystem (nil in dev builds).
var WebFS fs.FS

// defaultFrontendDir is served when no directory is configured and the
// binary carries no embedded frontend.
const defaultFrontendDir = "frontend"

// openFrontend resolves the asset source: the configured directory, else the
// embedded frontend, else ./frontend. source describes it for the banner and
// logs; closer is nil for the embedded frontend.
func openFrontend(cfg *config.AppConfig) (fsys fs.FS, source string, closer io.Closer, err error) {
	dir := cfg.FrontendDir
	if dir == "" {
		if WebFS != nil {
			return WebFS, "embedded", nil, nil
		}
		dir = defaultFrontendDir
	}
	fsys, closer, err = assets.OpenDir(dir)
	if err != nil {
		return nil, "", nil, err
	}
	return fsys, fmt.Sprintf("directory %s", dir), closer, nil
}

// warnBundledPrefix reports whether the bundled frontend is mounted somewhere
// other than /static, where its index.html expects its stylesheet and script.
func warnBundledPrefix(l *slog.Logger, cfg *config.AppConfig, source string) bool {
	if source != "embedded" || cfg.StaticPrefix == config.DefaultStaticPrefix {
		return false
	}
	l.Warn("bundled frontend references /static; its page will not load styles or scripts under this prefix",
		slog.String("static_prefix", cfg.StaticPrefix))
	return true
}
