// Command entityctl is an interactive terminal client for entityd.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/HerbHall/entitykit/internal/client"
	"github.com/HerbHall/entitykit/internal/listview"
	"github.com/HerbHall/entitykit/internal/version"
	"github.com/HerbHall/entitykit/pkg/models"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// readPassword is a test seam for reading the token without echo.
var readPassword = term.ReadPassword

// isTerminal is a test seam for terminal detection.
var isTerminal = term.IsTerminal

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "entityctl: %v\n", err)
		os.Exit(1)
	}
}

// options are resolved from flags, then ENTITYCTL_* environment variables.
type options struct {
	server string
	token  string
	limit  int
	watch  bool
	debug  bool
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	v := viper.New()
	v.SetEnvPrefix("ENTITYCTL")
	v.AutomaticEnv()
	v.SetDefault("server", "http://localhost:8080")
	v.SetDefault("token", "")
	v.SetDefault("limit", client.DefaultLimit)

	fs := flag.NewFlagSet("entityctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	server := fs.String("server", v.GetString("server"), "entityd base URL (env ENTITYCTL_SERVER)")
	token := fs.String("token", v.GetString("token"), `bearer token for write access, "-" to prompt (env ENTITYCTL_TOKEN)`)
	limit := fs.Int("limit", v.GetInt("limit"), "rows per page (1-100)")
	watch := fs.Bool("watch", false, "refresh automatically when entities change on the server")
	debug := fs.Bool("debug", false, "log client diagnostics to stderr")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if *showVersion {
		fmt.Fprintln(stderr, version.Info("entityctl"))
		return options{}, flag.ErrHelp
	}
	if *limit < 1 || *limit > client.MaxLimit {
		return options{}, fmt.Errorf("-limit must be between 1 and %d", client.MaxLimit)
	}
	return options{
		server: strings.TrimRight(*server, "/"),
		token:  *token,
		limit:  *limit,
		watch:  *watch,
		debug:  *debug,
	}, nil
}

// resolveToken prompts for the token when it is "-". The prompt needs a
// terminal since stdin also carries REPL commands.
func resolveToken(token string, stdin *os.File, stderr io.Writer) (string, error) {
	if token != "-" {
		return token, nil
	}
	fd := int(stdin.Fd())
	if !isTerminal(fd) {
		return "", errors.New(`-token - requires a terminal; set ENTITYCTL_TOKEN instead`)
	}
	fmt.Fprint(stderr, "Token: ")
	b, err := readPassword(fd)
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func newLogger(debug bool) *zap.Logger {
	if !debug {
		return zap.NewNop()
	}
	zc := zap.NewDevelopmentConfig()
	zc.OutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(ctx context.Context, args []string, stdin *os.File, stdout, stderr io.Writer) error {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		return err
	}
	token, err := resolveToken(opts.token, stdin, stderr)
	if err != nil {
		return err
	}

	logger := newLogger(opts.debug)
	defer logger.Sync() //nolint:errcheck

	api := client.New(opts.server, client.WithToken(token), client.WithLogger(logger))
	return session(ctx, api, opts, stdin, stdout, logger)
}

// session runs the REPL over api, watching the change feed when asked.
func session(ctx context.Context, api *client.Client, opts options, in io.Reader, out io.Writer, logger *zap.Logger) error {
	sess := client.NewSession(api, logger)

	if opts.watch {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go watch(watchCtx, sess, api.StreamURL(), logger)
	}

	fmt.Fprintf(out, "Connected to %s. Type \"help\" for commands.\n", api.BaseURL())
	repl := listview.NewREPL(sess, in, out, opts.limit)
	repl.OnRefresh = sess.Invalidate
	return repl.Run(ctx)
}

// watch keeps the change feed connected, reconnecting with a fixed delay.
func watch(ctx context.Context, sess *client.Session, url string, logger *zap.Logger) {
	const reconnectDelay = 3 * time.Second
	for {
		err := sess.Watch(ctx, url, func(msg models.ChangeMessage) {
			logger.Debug("entity changed", zap.String("action", msg.Action), zap.Int64("id", msg.ID))
		})
		if ctx.Err() != nil {
			return
		}
		logger.Warn("change feed disconnected", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
