package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"autoexit/monitor"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Controller is the part of the monitor the chat surface drives.
type Controller interface {
	Pause()
	Resume()
	SetTarget(points decimal.Decimal) error
	SetPollInterval(seconds float64) (float64, error)
	SetPaperMode(enabled bool)
	SetAutoExit(enabled bool)
	RetryBlocked() []string
	Status() monitor.Status
}

// Authorizer decides whether a sender may run commands.
type Authorizer func(userID, chatID int64) bool

// SummaryFunc renders the paper-trading summary for a day.
type SummaryFunc func(ctx context.Context, day time.Time) (string, error)

const helpText = "<b>AutoExit Bot Commands</b>\n\n" +
	"/pause - Pause position monitoring\n" +
	"/resume - Resume monitoring\n" +
	"/settarget &lt;points&gt; - Set target profit\n" +
	"/setinterval &lt;seconds&gt; - Set poll interval\n" +
	"/paper on|off [code] - Switch paper/live mode\n" +
	"/autoexit on|off - Toggle automatic exits\n" +
	"/retry - Unblock keys after permanent failures\n" +
	"/summary - Paper trading summary for today\n" +
	"/status - Show bot status\n" +
	"/help - Show this help"

// Commands maps chat commands onto the controller. It knows nothing about
// the transport, so replies are plain HTML strings.
type Commands struct {
	ctl        Controller
	authorize  Authorizer
	totpSecret string
	summary    SummaryFunc
	now        func() time.Time
	log        logrus.FieldLogger
}

// CommandsOption customises Commands.
type CommandsOption func(*Commands)

// WithTOTP requires a valid one-time code before switching to live mode.
func WithTOTP(secret string) CommandsOption {
	return func(c *Commands) { c.totpSecret = strings.TrimSpace(secret) }
}

func WithSummary(fn SummaryFunc) CommandsOption {
	return func(c *Commands) { c.summary = fn }
}

func WithClock(now func() time.Time) CommandsOption {
	return func(c *Commands) { c.now = now }
}

func NewCommands(ctl Controller, authorize Authorizer, log logrus.FieldLogger, opts ...CommandsOption) *Commands {
	c := &Commands{
		ctl:       ctl,
		authorize: authorize,
		now:       time.Now,
		log:       log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle runs one command line such as "/settarget 50" and returns the reply.
// Text that is not a command yields an empty reply.
func (c *Commands) Handle(ctx context.Context, userID, chatID int64, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	args := fields[1:]

	if c.authorize == nil || !c.authorize(userID, chatID) {
		c.log.Warnf("🚫 [Telegram] Unauthorized /%s from user=%d chat=%d", name, userID, chatID)
		return "❌ Unauthorized"
	}
	c.log.Infof("📨 [Telegram] /%s %v from user=%d", name, args, userID)

	switch name {
	case "pause":
		c.ctl.Pause()
		return "⏸️ Monitoring paused"
	case "resume":
		c.ctl.Resume()
		return "▶️ Monitoring resumed"
	case "settarget":
		return c.setTarget(args)
	case "setinterval":
		return c.setInterval(args)
	case "paper":
		return c.paper(args)
	case "autoexit":
		return c.autoExit(args)
	case "retry":
		keys := c.ctl.RetryBlocked()
		if len(keys) == 0 {
			return "ℹ️ No blocked positions"
		}
		return fmt.Sprintf("🔓 Unblocked: %s", strings.Join(keys, ", "))
	case "summary":
		return c.summarize(ctx)
	case "status":
		return FormatStatus(c.ctl.Status())
	case "help", "start":
		return helpText
	default:
		return fmt.Sprintf("❓ Unknown command /%s\nSend /help for the list.", name)
	}
}

func (c *Commands) setTarget(args []string) string {
	const usage = "Usage: /settarget &lt;points&gt;\nExample: /settarget 50"
	if len(args) != 1 {
		return usage
	}
	points, err := monitor.ParseDecimal("target_points", args[0])
	if err != nil {
		return "❌ Invalid number. " + usage
	}
	if err := c.ctl.SetTarget(points); err != nil {
		var verr *monitor.ValidationError
		if errors.As(err, &verr) {
			return "❌ Target must be positive"
		}
		return "❌ " + html.EscapeString(err.Error())
	}
	return fmt.Sprintf("🎯 Target updated to %s points", points)
}

func (c *Commands) setInterval(args []string) string {
	const usage = "Usage: /setinterval &lt;seconds&gt;\nExample: /setinterval 10"
	if len(args) != 1 {
		return usage
	}
	seconds, err := monitor.ParseSeconds("poll_interval_seconds", args[0])
	if err != nil {
		return "❌ Invalid number. " + usage
	}
	applied, err := c.ctl.SetPollInterval(seconds)
	if err != nil {
		return "❌ " + html.EscapeString(err.Error())
	}
	return fmt.Sprintf("⏱️ Poll interval set to %gs", applied)
}

func (c *Commands) paper(args []string) string {
	const usage = "Usage: /paper on|off [code]"
	if len(args) == 0 {
		return usage
	}
	switch strings.ToLower(args[0]) {
	case "on":
		c.ctl.SetPaperMode(true)
		return "📝 Paper mode enabled"
	case "off":
		if c.totpSecret != "" {
			if len(args) < 2 {
				return "🔐 Live mode needs a one-time code: /paper off &lt;code&gt;"
			}
			if !c.validCode(args[1]) {
				c.log.Warn("🔐 [Telegram] Rejected live-mode switch: bad one-time code")
				return "❌ Invalid code"
			}
		}
		c.ctl.SetPaperMode(false)
		return "🔴 Live mode enabled"
	default:
		return usage
	}
}

func (c *Commands) validCode(code string) bool {
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), c.totpSecret, c.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		c.log.WithError(err).Warn("⚠️  [Telegram] TOTP validation error")
		return false
	}
	return ok
}

func (c *Commands) autoExit(args []string) string {
	const usage = "Usage: /autoexit on|off"
	if len(args) != 1 {
		return usage
	}
	switch strings.ToLower(args[0]) {
	case "on":
		c.ctl.SetAutoExit(true)
		return "✅ Auto-exit enabled"
	case "off":
		c.ctl.SetAutoExit(false)
		return "❌ Auto-exit disabled"
	default:
		return usage
	}
}

func (c *Commands) summarize(ctx context.Context) string {
	if c.summary == nil {
		return "ℹ️ Paper trading ledger is not configured"
	}
	text, err := c.summary(ctx, c.now())
	if err != nil {
		c.log.WithError(err).Warn("⚠️  [Telegram] Summary failed")
		return "❌ Could not build summary"
	}
	return text
}

// FormatStatus renders a monitor snapshot for chat.
func FormatStatus(s monitor.Status) string {
	state := "▶️ RUNNING"
	if s.Paused {
		state = "⏸️ PAUSED"
	}
	mode := "🔴 LIVE MODE"
	if s.PaperMode {
		mode = "📝 PAPER MODE"
	}
	autoExit := "❌ Disabled"
	if s.AutoExitEnabled {
		autoExit = "✅ Enabled"
	}

	var b strings.Builder
	b.WriteString("<b>AutoExit Bot Status</b>\n\n")
	fmt.Fprintf(&b, "State: %s\n", state)
	fmt.Fprintf(&b, "Mode: %s\n", mode)
	fmt.Fprintf(&b, "Auto-exit: %s\n\n", autoExit)
	fmt.Fprintf(&b, "🎯 Target: %s points\n", s.TargetPoints)
	fmt.Fprintf(&b, "⏱️ Poll interval: %gs\n", s.PollIntervalSeconds)
	fmt.Fprintf(&b, "📊 Tracked positions: %d\n", s.TrackedCount)
	fmt.Fprintf(&b, "⏳ Pending exits: %d", s.PendingCount)
	if s.BlockedCount > 0 {
		fmt.Fprintf(&b, "\n🚫 Blocked: %d (send /retry)", s.BlockedCount)
	}
	if s.LastError != "" {
		fmt.Fprintf(&b, "\n⚠️ Last error: %s", html.EscapeString(s.LastError))
	}
	return b.String()
}
