// Package logging provides structured logging for contextfs.
//
// Logger wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - stdout output plus an optional OpenTelemetry log bridge
//   - context field injection (trace_id, span_id, request.id, sweep.id, file.path)
//   - field-name and pattern based secret redaction
//   - sampling below Error
//
// Typical use:
//
//	cfg := logging.FromSettings("debug", "console")
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	zlog := logger.Underlying()
//
// Components take the *zap.Logger and attach correlation data from the
// context themselves:
//
//	ctx = logging.WithFilePath(ctx, "/home/me/Downloads/invoice.pdf")
//	zlog.With(logging.ContextFields(ctx)...).Info("file indexed", zap.Int("records", 3))
//
// Tests use TestLogger, built on zaptest/observer:
//
//	tl := logging.NewTestLogger()
//	component := poller.New(..., tl.Underlying())
//	tl.AssertLogged(t, zapcore.InfoLevel, "sweep finished")
package logging
