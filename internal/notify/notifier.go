// Package notify forwards operator-relevant vault events (losses, emergency
// actions, rejected withdrawals) to chat channels such as Telegram and
// Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// DefaultEvents are the kinds forwarded when no filter is configured.
var DefaultEvents = []domain.EventKind{
	domain.EventHarvest,
	domain.EventWithdrawRejected,
	domain.EventEmergencyExit,
	domain.EventEmergencyShutdown,
	domain.EventStrategyRevoked,
	domain.EventStrategyMigrated,
}

// Notifier dispatches events to every sender. Harvests are only forwarded
// when they report a loss.
type Notifier struct {
	senders []Sender
	events  map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders. An empty events list
// selects DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool)
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventKind(e)] = true
		}
	}
	if len(allowed) == 0 {
		for _, k := range DefaultEvents {
			allowed[k] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Wants reports whether ev would be forwarded.
func (n *Notifier) Wants(ev domain.Event) bool {
	if !n.events[ev.Kind] {
		return false
	}
	if ev.Kind == domain.EventHarvest {
		loss := ev.Amounts["loss"]
		return loss != nil && loss.Sign() > 0
	}
	return true
}

// NotifyEvent formats ev and sends it when the filter allows.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if len(n.senders) == 0 || !n.Wants(ev) {
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form message to every sender, bypassing the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch keeps going after a sender fails and returns the joined errors.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// Format renders ev as a title and a plain-text body.
func Format(ev domain.Event) (string, string) {
	title := fmt.Sprintf("Vault %s: %s", short(ev.Vault.Hex()), strings.ReplaceAll(string(ev.Kind), "_", " "))
	if ev.Kind == domain.EventHarvest {
		title = fmt.Sprintf("Vault %s: strategy loss", short(ev.Vault.Hex()))
	}

	var b strings.Builder
	if ev.Strategy != nil {
		fmt.Fprintf(&b, "strategy: %s\n", ev.Strategy.Hex())
	}
	if ev.Account != nil {
		fmt.Fprintf(&b, "account: %s\n", ev.Account.Hex())
	}
	keys := make([]string, 0, len(ev.Amounts))
	for k := range ev.Amounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, amount(ev.Amounts[k]))
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, "%s\n", ev.Detail)
	}
	fmt.Fprintf(&b, "at: %s", ev.At.UTC().Format("2006-01-02 15:04:05 MST"))
	return title, b.String()
}

func short(hex string) string {
	if len(hex) <= 10 {
		return hex
	}
	return hex[:6] + "…" + hex[len(hex)-4:]
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
