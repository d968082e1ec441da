package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/deimic-pi/internal/pkg/bridge"
	"github.com/anicoll/deimic-pi/internal/pkg/clitool"
	"github.com/anicoll/deimic-pi/internal/pkg/config"
	"github.com/anicoll/deimic-pi/internal/pkg/device"
	"github.com/anicoll/deimic-pi/internal/pkg/feed"
	"github.com/anicoll/deimic-pi/internal/pkg/leddriver"
	"github.com/anicoll/deimic-pi/internal/pkg/metric"
	"github.com/anicoll/deimic-pi/internal/pkg/mqtt"
	"github.com/anicoll/deimic-pi/internal/pkg/publisher"
	"github.com/anicoll/deimic-pi/internal/pkg/server"
	"github.com/anicoll/deimic-pi/pkg/sockets"
)

// expirySpec is how often the bridge drops pending requests that outlived
// their ttl.
const expirySpec = "@every 1m"

var ErrMissingArgument = errors.New("missing argument")

// service runs alongside a device until ctx is done.
type service func(ctx context.Context) error

// BridgeCommand runs the bridge with its HTTP surface, the mirror worker and
// the pending request sweep.
func BridgeCommand(c *cli.Context) error {
	settings, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()

	zctx, err := sockets.NewContext()
	if err != nil {
		return err
	}
	defer zctx.Close()

	metrics := metric.New()
	mirrors := publisher.New(metrics)
	hub := feed.New()
	defer hub.Close()
	if err := mirrors.Register("feed", hub); err != nil {
		return err
	}

	if settings.Bridge.Mqtt.Host != "" {
		mqttSvc := mqtt.New(mqtt.NewClient(settings.Bridge.Mqtt), settings.Bridge.Mqtt.TopicPrefix)
		if err := mqttSvc.Connect(); err != nil {
			return fmt.Errorf("connect mqtt %s: %w", settings.Bridge.Mqtt.Host, err)
		}
		defer mqttSvc.Close()
		if err := mirrors.Register("mqtt", mqttSvc); err != nil {
			return err
		}
	}

	b, err := bridge.New(settings, zctx, bridge.WithMetrics(metrics), bridge.WithMirrors(mirrors))
	if err != nil {
		return err
	}

	services := []service{mirrors.Run, cronJob(expirySpec, b.ExpirePending)}
	if addr := settings.Bridge.HTTPAddr; addr != "" {
		handler := server.Handler(server.New(b.State(), b.Journal()), metrics, hub)
		services = append(services, serveHTTP(addr, handler))
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, b, services...)
}

// LedDriverCommand runs the LED driver.
func LedDriverCommand(c *cli.Context) error {
	settings, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	zctx, err := sockets.NewContext()
	if err != nil {
		return err
	}
	defer zctx.Close()

	d, err := leddriver.New(settings, zctx)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, d)
}

// MonitorCommand prints every state update the bridge broadcasts.
func MonitorCommand(c *cli.Context) error {
	settings, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	zctx, err := sockets.NewContext()
	if err != nil {
		return err
	}
	defer zctx.Close()

	tool, err := clitool.New(settings, zctx, clitool.WithOutput(c.App.Writer))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, tool)
}

// StateCommand prints the bridge's state snapshot.
func StateCommand(c *cli.Context) error {
	return withRequester(c, func(r Requester) error {
		return printState(r, c.App.Writer)
	})
}

// CommandCommand forwards a command to every role matching --target.
func CommandCommand(c *cli.Context) error {
	target, err := device.ParseSignature(c.String("target"))
	if err != nil {
		return err
	}
	return withRequester(c, func(r Requester) error {
		return sendCommand(r, c.App.Writer, target, c.Args().Slice())
	})
}

// RecordCommand submits a JSON payload to the bridge's request journal.
func RecordCommand(c *cli.Context) error {
	return withRequester(c, func(r Requester) error {
		return recordPayload(r, c.App.Writer, c.Args().First())
	})
}

func withRequester(c *cli.Context, do func(r Requester) error) error {
	settings, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	zctx, err := sockets.NewContext()
	if err != nil {
		return err
	}
	defer zctx.Close()

	tool, err := clitool.New(settings, zctx)
	if err != nil {
		return err
	}
	defer tool.Close()
	return do(tool)
}

func printState(r Requester, w io.Writer) error {
	snap, err := r.State()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func sendCommand(r Requester, w io.Writer, target device.Signature, frames []string) error {
	if len(frames) == 0 {
		return fmt.Errorf("%w: command frames", ErrMissingArgument)
	}
	if err := r.Command(target, frames...); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "sent %v to %s\n", frames, target)
	return err
}

func recordPayload(r Requester, w io.Writer, raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: json payload", ErrMissingArgument)
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	id, err := r.Record(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, id)
	return err
}

// run executes the device loop and services until ctx is done or one of
// them fails, then closes the device.
func run(ctx context.Context, dev Device, services ...service) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return dev.Execute(ctx)
	})
	for _, svc := range services {
		eg.Go(func() error {
			return svc(ctx)
		})
	}

	err := eg.Wait()
	if cerr := dev.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close device: %w", cerr))
	}
	return err
}

func cronJob(spec string, job func()) service {
	return func(ctx context.Context) error {
		c := cron.New()
		if _, err := c.AddFunc(spec, job); err != nil {
			return err
		}
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	}
}

func serveHTTP(addr string, handler http.Handler) service {
	return func(ctx context.Context) error {
		srv := &http.Server{
			Handler:      handler,
			Addr:         addr,
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		zap.L().Info("http server listening", zap.String("addr", addr))

		select {
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// setup loads the settings and installs the global logger.
func setup(c *cli.Context) (*config.Settings, *zap.Logger, error) {
	settings, err := loadSettings(c)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(settings.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(logger)
	return settings, logger, nil
}

// loadSettings layers explicitly set flags over the settings file and
// environment.
func loadSettings(c *cli.Context) (*config.Settings, error) {
	return config.Load(c.String("config"), func(s *config.Settings) {
		if c.IsSet("log-level") {
			s.LogLevel = c.String("log-level")
		}
		if c.IsSet("bridge-addr-form") {
			s.BridgeAddrForm = c.String("bridge-addr-form")
		}
		if c.IsSet("http-addr") {
			s.Bridge.HTTPAddr = c.String("http-addr")
		}
		if c.IsSet("mqtt-host") {
			s.Bridge.Mqtt.Host = c.String("mqtt-host")
		}
		if c.IsSet("mqtt-user") {
			s.Bridge.Mqtt.Username = c.String("mqtt-user")
		}
		if c.IsSet("mqtt-pass") {
			s.Bridge.Mqtt.Password = c.String("mqtt-pass")
		}
		if c.IsSet("mqtt-prefix") {
			s.Bridge.Mqtt.TopicPrefix = c.String("mqtt-prefix")
		}
		if c.IsSet("strip-length") {
			s.LedDriver.StripLength = c.Int("strip-length")
		}
		if c.IsSet("request-timeout") {
			s.CLITool.RequestTimeout = c.Duration("request-timeout")
		}
	})
}

func newLogger(level string) (*zap.Logger, error) {
	var err error
	logCfg := zap.NewProductionConfig()

	logCfg.Level, err = zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}
