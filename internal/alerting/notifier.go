package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pegwatch/internal/catalog"
	"pegwatch/internal/peg"
)

// BoardLine is one row of the full-board summary attached to an alert.
type BoardLine struct {
	Symbol       string
	Price        decimal.Decimal
	DeviationPct decimal.Decimal
	Status       peg.Status
}

// Notification carries everything the channel needs to render one alert.
type Notification struct {
	Audience     catalog.Tier
	Symbol       string
	Price        decimal.Decimal
	DeviationPct decimal.Decimal
	ThresholdPct decimal.Decimal
	Status       peg.Status
	RiskScore    *float64
	Confidence   *float64
	At           time.Time
	Board        []BoardLine
}

// Notifier delivers a formatted alert to the audience's channel. Delivery
// failure is returned to the caller; retry policy lives with the dispatcher.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// TelegramNotifier pushes alerts through the Telegram Bot API, routing each
// audience tier to its own chat.
type TelegramNotifier struct {
	botToken string
	chatIDs  map[catalog.Tier]string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a tier-routed Telegram notifier.
func NewTelegramNotifier(botToken string, chatIDs map[catalog.Tier]string, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatIDs:  chatIDs,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered alert to the chat mapped to the notification's
// audience via the sendMessage API.
func (t *TelegramNotifier) Notify(ctx context.Context, n Notification) error {
	chatID, ok := t.chatIDs[n.Audience]
	if !ok || chatID == "" {
		return fmt.Errorf("no chat configured for %s audience", n.Audience)
	}

	payload := map[string]string{
		"chat_id": chatID,
		"text":    renderMessage(n),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	t.logger.Info().Str("audience", string(n.Audience)).
		Str("symbol", n.Symbol).
		Str("status", string(n.Status)).
		Msg("alert delivered")
	return nil
}

var statusMarker = map[peg.Status]string{
	peg.StatusStable:   "[OK]",
	peg.StatusWarning:  "[WARN]",
	peg.StatusDepegged: "[DEPEG]",
}

func renderMessage(n Notification) string {
	builder := strings.Builder{}
	builder.WriteString("DEPEG ALERT\n\n")
	builder.WriteString(fmt.Sprintf("%s %s: $%s (%s%%)\n",
		statusMarker[n.Status], n.Symbol,
		n.Price.StringFixed(4), signedPct(n.DeviationPct)))
	builder.WriteString(fmt.Sprintf("Threshold: %s%%\n", n.ThresholdPct.Mul(decimal.NewFromInt(100)).StringFixed(2)))

	if n.RiskScore != nil {
		builder.WriteString(fmt.Sprintf("Risk: %.0f/100", *n.RiskScore))
		if n.Confidence != nil {
			builder.WriteString(fmt.Sprintf(" (confidence %.0f%%)", *n.Confidence))
		}
		builder.WriteString("\n")
	}

	if len(n.Board) > 0 {
		builder.WriteString("\nAll monitored assets:\n")
		for _, line := range n.Board {
			builder.WriteString(fmt.Sprintf("%s %s: $%s (%s%%)\n",
				statusMarker[line.Status], line.Symbol,
				line.Price.StringFixed(4), signedPct(line.DeviationPct)))
		}
	}

	builder.WriteString(fmt.Sprintf("\n%s UTC", n.At.UTC().Format("15:04")))
	if n.Audience == catalog.TierPremium {
		builder.WriteString("\nPremium alert - early warning")
	}
	return builder.String()
}

func signedPct(deviation decimal.Decimal) string {
	pct := deviation.Mul(decimal.NewFromInt(100))
	s := pct.StringFixed(2)
	if pct.Sign() >= 0 {
		return "+" + s
	}
	return s
}

var _ Notifier = (*TelegramNotifier)(nil)
